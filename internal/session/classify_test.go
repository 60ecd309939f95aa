package session

import "testing"

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"typical backend message", "email rate limit exceeded", true},
		{"mixed case", "Email Rate Limit Exceeded", true},
		{"embedded in longer text", "request rejected: rate limit reached, retry later", true},
		{"unrelated error", "Invalid login credentials", false},
		{"empty message", "", false},
		{"similar but different wording", "too many requests", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRateLimitError(tt.message); got != tt.want {
				t.Errorf("isRateLimitError(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}
