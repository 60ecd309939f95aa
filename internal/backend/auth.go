package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/todosync/internal/model"
)

// 認証サービスのエンドポイントパス。
const (
	otpPath       = "/auth/v1/otp"
	signupPath    = "/auth/v1/signup"
	tokenPath     = "/auth/v1/token"
	logoutPath    = "/auth/v1/logout"
	authorizePath = "/auth/v1/authorize"
)

// refreshMargin はトークン有効期限のどれだけ前にリフレッシュするか。
const refreshMargin = 30 * time.Second

// tokenResponse は認証エンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int         `json:"expires_in"`
	User         *model.User `json:"user"`
}

// toSession はレスポンスをSessionに変換する。
// アクセストークンを持たないレスポンス（確認待ちのサインアップ等）はnilを返す。
func (t *tokenResponse) toSession() *model.Session {
	if t.AccessToken == "" {
		return nil
	}
	sess := &model.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		User:         t.User,
	}
	if t.ExpiresIn > 0 {
		sess.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return sess
}

// SignInWithMagicLink はワンタイムサインインリンクの送信を要求する。
// この呼び出し自体は認証を行わない。ユーザーがリンクを踏んだ結果は
// 認証状態の変化としてOnAuthStateChange経由で通知される。
func (c *Client) SignInWithMagicLink(ctx context.Context, email string) error {
	start := time.Now()
	err := c.postJSON(ctx, otpPath, map[string]any{
		"email":       email,
		"create_user": true,
	}, nil)
	c.recordRequest("sign_in_magic_link", err, start)
	return err
}

// SignUpWithEmail はメールアドレスとパスワードで新規登録する。
// バックエンドの設定によっては初回利用前にメール確認が必要となり、
// その場合セッションはnilで返る。
func (c *Client) SignUpWithEmail(ctx context.Context, email, password string) (*model.Session, error) {
	start := time.Now()

	var tok tokenResponse
	err := c.postJSON(ctx, signupPath, map[string]any{
		"email":    email,
		"password": password,
	}, &tok)
	c.recordRequest("sign_up", err, start)
	if err != nil {
		return nil, err
	}

	sess := tok.toSession()
	if sess != nil {
		c.setSession(sess)
	}
	return sess, nil
}

// SignInWithEmail は保存済みの資格情報で認証する。
// 成功するとセッションが差し替わり、リスナーに通知される。
func (c *Client) SignInWithEmail(ctx context.Context, email, password string) (*model.Session, error) {
	start := time.Now()

	var tok tokenResponse
	err := c.postJSON(ctx, tokenPath+"?grant_type=password", map[string]any{
		"email":    email,
		"password": password,
	}, &tok)
	c.recordRequest("sign_in_password", err, start)
	if err != nil {
		return nil, err
	}

	sess := tok.toSession()
	if sess == nil {
		return nil, &model.BackendError{
			Status:  http.StatusInternalServerError,
			Message: "empty access token in response",
		}
	}
	c.setSession(sess)
	return sess, nil
}

// SignInWithGoogle は第三者IDプロバイダへの委譲URLを返す。
// 呼び出し側はユーザーをこのURLへリダイレクトする。認証完了は
// OnAuthStateChange経由で通知される。
func (c *Client) SignInWithGoogle(redirectTo string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("backend URL is not configured")
	}
	params := url.Values{
		"provider": {"google"},
	}
	if redirectTo != "" {
		params.Set("redirect_to", redirectTo)
	}
	return c.baseURL + authorizePath + "?" + params.Encode(), nil
}

// SignOut は現在のセッションを失効させる。
// ローカルのセッション破棄とリスナー通知はネットワーク呼び出しの成否に
// かかわらず行う。バックエンド側の失効が失敗した場合のみエラーを返す。
// 失効リクエストにはローカル破棄前に取得したトークンを使う。
func (c *Client) SignOut(ctx context.Context) error {
	start := time.Now()

	token := c.accessToken()
	c.setSession(nil)

	if token == "" {
		c.recordRequest("sign_out", nil, start)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+logoutPath, bytes.NewReader(nil))
	if err != nil {
		err = fmt.Errorf("failed to create request: %w", err)
		c.recordRequest("sign_out", err, start)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		err = fmt.Errorf("request failed: %w", err)
		c.recordRequest("sign_out", err, start)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = decodeError(resp)
		c.recordRequest("sign_out", err, start)
		return err
	}

	c.recordRequest("sign_out", nil, start)
	return nil
}

// scheduleRefreshLocked は有効期限の少し前にトークンリフレッシュを予約する。
// 呼び出し側がロックを保持していること。
func (c *Client) scheduleRefreshLocked(sess *model.Session) {
	delay := time.Until(sess.ExpiresAt) - refreshMargin
	if delay < time.Second {
		delay = time.Second
	}
	refreshToken := sess.RefreshToken
	c.refreshTimer = time.AfterFunc(delay, func() {
		c.refreshSession(refreshToken)
	})
}

// refreshSession はリフレッシュトークンでセッションを更新する。
// 成功時はトークンリフレッシュとしてリスナーに通知される。
// 失敗時はサインアウト扱いにはせず、ログに記録するのみ
// （次のAPI呼び出しが401で失敗し、ユーザー操作で回復する）。
func (c *Client) refreshSession(refreshToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.http.Timeout)
	defer cancel()

	start := time.Now()
	var tok tokenResponse
	err := c.postJSON(ctx, tokenPath+"?grant_type=refresh_token", map[string]any{
		"refresh_token": refreshToken,
	}, &tok)
	c.recordRequest("refresh_token", err, start)
	if err != nil {
		slog.Error("token refresh failed", slog.String("error", err.Error()))
		return
	}

	sess := tok.toSession()
	if sess == nil {
		slog.Error("token refresh returned no session")
		return
	}
	c.setSession(sess)
}

// postJSON はJSONボディ付きPOSTを実行し、成功時はoutにデコードする。
// bodyがnilの場合は空ボディ、outがnilの場合はレスポンスを読み捨てる。
func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(c.newRequest(req))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
