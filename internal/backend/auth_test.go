package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/todosync/internal/model"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL: baseURL,
		APIKey:  "test-anon-key",
	})
}

func TestSignInWithMagicLink_SendsOTPRequest(t *testing.T) {
	var gotPath, gotAPIKey string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("apikey")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if err := c.SignInWithMagicLink(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/auth/v1/otp" {
		t.Errorf("path = %q, want /auth/v1/otp", gotPath)
	}
	if gotAPIKey != "test-anon-key" {
		t.Errorf("apikey header = %q, want test-anon-key", gotAPIKey)
	}
	if gotBody["email"] != "alice@example.com" {
		t.Errorf("email = %v, want alice@example.com", gotBody["email"])
	}
	// 未登録のアドレスにはアカウントを作成する
	if gotBody["create_user"] != true {
		t.Errorf("create_user = %v, want true", gotBody["create_user"])
	}
}

func TestSignInWithMagicLink_ErrorPreservesBackendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"msg":"email rate limit exceeded"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	err := c.SignInWithMagicLink(context.Background(), "alice@example.com")
	if err == nil {
		t.Fatal("expected error")
	}

	// レートリミット検出が部分文字列照合に依存するため、本文は書き換えない
	if err.Error() != "email rate limit exceeded" {
		t.Errorf("error = %q, want backend message verbatim", err.Error())
	}
	var be *model.BackendError
	if !errors.As(err, &be) || be.Status != http.StatusTooManyRequests {
		t.Errorf("expected BackendError with status 429, got %#v", err)
	}
}

func TestSignInWithEmail_SetsSessionAndNotifiesListeners(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request: %s %s", r.URL.Path, r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"access_token": "at-1",
			"refresh_token": "rt-1",
			"expires_in": 3600,
			"user": {"id": "user-1", "email": "alice@example.com"}
		}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	defer c.Close()

	var notifications []*model.Session
	unsubscribe := c.OnAuthStateChange(func(sess *model.Session) {
		notifications = append(notifications, sess)
	})
	defer unsubscribe()

	// 登録時点で即座に1回（未認証なのでnil）呼ばれる
	if len(notifications) != 1 || notifications[0] != nil {
		t.Fatalf("expected immediate nil notification, got %v", notifications)
	}

	sess, err := c.SignInWithEmail(context.Background(), "alice@example.com", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.AccessToken != "at-1" {
		t.Errorf("access token = %q, want at-1", sess.AccessToken)
	}

	if len(notifications) != 2 || notifications[1] == nil {
		t.Fatalf("expected sign-in notification, got %d notifications", len(notifications))
	}
	if notifications[1].User.Email != "alice@example.com" {
		t.Errorf("notified user = %q, want alice@example.com", notifications[1].User.Email)
	}

	if u := c.GetCurrentUser(); u == nil || u.ID != "user-1" {
		t.Errorf("GetCurrentUser = %v, want user-1", u)
	}
}

func TestSignInWithEmail_InvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_description":"Invalid login credentials"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.SignInWithEmail(context.Background(), "alice@example.com", "wrong")
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "Invalid login credentials" {
		t.Errorf("error = %q, want error_description field extracted", err.Error())
	}
	if c.GetCurrentUser() != nil {
		t.Error("failed sign-in must not set a session")
	}
}

func TestSignUpWithEmail_ConfirmationRequired_ReturnsNilSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// メール確認待ちの場合、アクセストークンは発行されない
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user": {"id": "user-1", "email": "alice@example.com"}}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	sess, err := c.SignUpWithEmail(context.Background(), "alice@example.com", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess != nil {
		t.Errorf("session = %v, want nil when confirmation pending", sess)
	}
	if c.GetCurrentUser() != nil {
		t.Error("pending confirmation must not set a session")
	}
}

func TestSignInWithGoogle_BuildsAuthorizeURL(t *testing.T) {
	c := newTestClient("https://backend.example")

	got, err := c.SignInWithGoogle("http://localhost:8080/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(got, "https://backend.example/auth/v1/authorize?") {
		t.Errorf("url = %q, want authorize endpoint", got)
	}
	if !strings.Contains(got, "provider=google") {
		t.Errorf("url = %q, want provider=google", got)
	}
	if !strings.Contains(got, "redirect_to=http%3A%2F%2Flocalhost%3A8080%2F") {
		t.Errorf("url = %q, want encoded redirect_to", got)
	}
}

func TestSignOut_RevokesWithSignedInToken(t *testing.T) {
	var gotAuth, gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token": "at-1", "user": {"id": "user-1", "email": "a@example.com"}}`))
		case "/auth/v1/logout":
			gotAuth = r.Header.Get("Authorization")
			gotAPIKey = r.Header.Get("apikey")
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	defer c.Close()
	if _, err := c.SignInWithEmail(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// ローカル破棄が先行しても、失効リクエストは破棄前のトークンで認証される
	if gotAuth != "Bearer at-1" {
		t.Errorf("logout Authorization = %q, want Bearer at-1", gotAuth)
	}
	if gotAPIKey != "test-anon-key" {
		t.Errorf("logout apikey = %q, want test-anon-key", gotAPIKey)
	}
}

func TestSignOut_ClearsSessionEvenWhenRevocationFails(t *testing.T) {
	calls := 0
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token": "at-1", "user": {"id": "user-1", "email": "a@example.com"}}`))
		case "/auth/v1/logout":
			calls++
			gotAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"message":"revocation failed"}`))
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	defer c.Close()
	if _, err := c.SignInWithEmail(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}

	err := c.SignOut(context.Background())

	// バックエンド側の失効失敗はエラーとして返すが、ローカルは破棄済み
	if err == nil {
		t.Error("expected revocation error to propagate")
	}
	if calls != 1 {
		t.Errorf("logout calls = %d, want 1", calls)
	}
	if gotAuth != "Bearer at-1" {
		t.Errorf("logout Authorization = %q, want Bearer at-1", gotAuth)
	}
	if c.GetCurrentUser() != nil {
		t.Error("local session must be cleared regardless of revocation outcome")
	}
}

func TestSignOut_WithoutSession_NoNetworkCall(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("sign-out without a session must not call the backend")
	}
}

func TestOnAuthStateChange_UnsubscribeStopsNotifications(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "at-1", "user": {"id": "user-1", "email": "a@example.com"}}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	defer c.Close()

	count := 0
	unsubscribe := c.OnAuthStateChange(func(*model.Session) { count++ })
	unsubscribe()

	if _, err := c.SignInWithEmail(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}

	// 解除後は即時通知の1回のみ
	if count != 1 {
		t.Errorf("notifications = %d, want 1 (immediate fire only)", count)
	}
}

func TestDecodeError_FallbackWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	err := c.SignInWithMagicLink(context.Background(), "a@example.com")
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "backend returned status 502" {
		t.Errorf("error = %q, want status fallback message", err.Error())
	}
}
