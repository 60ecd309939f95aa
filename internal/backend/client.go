// Package backend は外部の認証・データベース・リアルタイムサービスへの
// 型付きクライアントを提供する。
//
// バックエンドの内部（レプリケーション、行レベルセキュリティ、トークン暗号）は
// このパッケージの関知するところではなく、HTTPの契約のみを扱う。
// すべての呼び出しは結果とエラーのペアを返し、境界を越えてpanicしない。
package backend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/todosync/internal/model"
)

// MetricsRecorder はバックエンド呼び出しのメトリクス記録インターフェース。
// 計測が不要な場合はnilを渡してよい。
type MetricsRecorder interface {
	RecordBackendRequest(op string, err error, duration time.Duration)
	RecordRealtimeEvent()
}

// Config はClientの設定。
type Config struct {
	// BaseURL はバックエンドサービスのエンドポイントURL。
	BaseURL string
	// APIKey は公開APIキー。全リクエストのapikeyヘッダーに付与される。
	APIKey string
	// Timeout はHTTPリクエストのタイムアウト。0の場合は10秒。
	Timeout time.Duration

	// Realtime再接続のバックオフ設定。0の場合はデフォルト値を使用する。
	RealtimeInitialBackoff time.Duration
	RealtimeMaxBackoff     time.Duration

	// Metrics はバックエンド呼び出しの計測先。省略可。
	Metrics MetricsRecorder
}

// Client はバックエンドサービスへの長寿命クライアント。
// プロセス起動時に1回だけ生成し、必要とするすべてのコンポーネントに
// 注入して使う。呼び出しごとに再生成してはならない。
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	metrics MetricsRecorder

	realtimeInitialBackoff time.Duration
	realtimeMaxBackoff     time.Duration

	mu           sync.RWMutex
	session      *model.Session
	listeners    map[int]func(*model.Session)
	nextListener int
	refreshTimer *time.Timer
	closed       bool
}

// NewClient はClientを生成する。
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	initialBackoff := cfg.RealtimeInitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}
	maxBackoff := cfg.RealtimeMaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	return &Client{
		baseURL:                cfg.BaseURL,
		apiKey:                 cfg.APIKey,
		http:                   &http.Client{Timeout: timeout},
		metrics:                cfg.Metrics,
		realtimeInitialBackoff: initialBackoff,
		realtimeMaxBackoff:     maxBackoff,
		listeners:              make(map[int]func(*model.Session)),
	}
}

// GetCurrentUser はキャッシュ済みセッションのユーザーを返す。
// ネットワークアクセスは行わない。未認証の場合はnil。
func (c *Client) GetCurrentUser() *model.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil || c.session.User == nil {
		return nil
	}
	u := *c.session.User
	return &u
}

// OnAuthStateChange は認証状態の変化（サインイン、サインアウト、
// トークンリフレッシュ）を通知するリスナーを登録し、解除関数を返す。
// 登録時点の状態で即座に1回呼び出される。これにより購読側は
// 初回の状態解決を待つだけでloading状態を抜けられる。
func (c *Client) OnAuthStateChange(fn func(*model.Session)) func() {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	current := c.sessionSnapshotLocked()
	c.mu.Unlock()

	fn(current)

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Close はトークンリフレッシュのタイマーを停止し、以後の通知を抑止する。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

// setSession はセッションを差し替え、リスナーに通知する。
// sessがnilの場合はサインアウトを意味する。
func (c *Client) setSession(sess *model.Session) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.session = sess
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if sess != nil && sess.RefreshToken != "" && !sess.ExpiresAt.IsZero() {
		c.scheduleRefreshLocked(sess)
	}
	fns := make([]func(*model.Session), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	snapshot := c.sessionSnapshotLocked()
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

// sessionSnapshotLocked はリスナーに渡すセッションのコピーを返す。
// 呼び出し側がロックを保持していること。
func (c *Client) sessionSnapshotLocked() *model.Session {
	if c.session == nil {
		return nil
	}
	s := *c.session
	if c.session.User != nil {
		u := *c.session.User
		s.User = &u
	}
	return &s
}

// accessToken は現在のアクセストークンを返す。未認証時は空文字列。
func (c *Client) accessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

// newRequest はapikeyヘッダーと（認証済みであれば）Authorizationヘッダーを
// 付与したリクエストを生成する。
func (c *Client) newRequest(req *http.Request) *http.Request {
	req.Header.Set("apikey", c.apiKey)
	if token := c.accessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// backendErrorBody はバックエンドのエラーレスポンスボディ。
// サービスによってフィールド名が揺れるため、候補をすべて受ける。
type backendErrorBody struct {
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
}

// decodeError は非2xxレスポンスをBackendErrorに変換する。
// 人間可読なメッセージを可能な限り保存する。レートリミット検出が
// メッセージの部分文字列に依存するため、本文は書き換えない。
func decodeError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return &model.BackendError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("backend returned status %d", resp.StatusCode),
		}
	}

	var eb backendErrorBody
	message := ""
	if jsonErr := json.Unmarshal(body, &eb); jsonErr == nil {
		switch {
		case eb.Message != "":
			message = eb.Message
		case eb.Msg != "":
			message = eb.Msg
		case eb.ErrorDescription != "":
			message = eb.ErrorDescription
		case eb.Error != "":
			message = eb.Error
		}
	}
	if message == "" {
		message = fmt.Sprintf("backend returned status %d", resp.StatusCode)
	}

	return &model.BackendError{Status: resp.StatusCode, Message: message}
}

// recordRequest はメトリクスレコーダーが設定されていれば呼び出しを記録する。
func (c *Client) recordRequest(op string, err error, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordBackendRequest(op, err, time.Since(start))
	}
}
