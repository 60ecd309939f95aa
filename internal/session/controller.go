// Package session は認証状態の管理を提供する。
//
// Controllerはバックエンドの認証状態変化を唯一の情報源とする状態機械で、
// loading → unauthenticated / authenticated と遷移し、以後は
// authenticated ⇄ unauthenticated を行き来する。終端状態は持たない。
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/todosync/internal/model"
)

// State はControllerの認証状態を表す。
type State int

const (
	// StateLoading は初回の認証状態解決を待っている状態。
	StateLoading State = iota
	// StateUnauthenticated は認証済みユーザーが存在しない状態。
	StateUnauthenticated
	// StateAuthenticated は認証済みユーザーが存在する状態。
	StateAuthenticated
)

// String はStateの文字列表現を返す。
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// ユーザー向けの固定メッセージ。
const (
	// cooldownWaitMessage はクールダウン中の再送信時に表示する固定文言。
	cooldownWaitMessage = "Please wait before trying again."
	// rateLimitMessage はレートリミット検出時に表示する固定文言。
	rateLimitMessage = "Too many sign-in attempts. Please try again in a few minutes."
	// magicLinkSentMessage はマジックリンク送信成功時の案内文言。
	magicLinkSentMessage = "Check your email for the login link!"
	// confirmEmailMessage はメール確認待ちサインアップの案内文言。
	confirmEmailMessage = "Check your email to confirm your account."
)

// defaultCooldown はレートリミット後のクールダウン期間。
const defaultCooldown = 60 * time.Second

// AuthClient はControllerが必要とするバックエンド認証操作のインターフェース。
// backend.Clientの部分集合として定義する。
type AuthClient interface {
	SignInWithMagicLink(ctx context.Context, email string) error
	SignUpWithEmail(ctx context.Context, email, password string) (*model.Session, error)
	SignInWithEmail(ctx context.Context, email, password string) (*model.Session, error)
	SignInWithGoogle(redirectTo string) (string, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(fn func(*model.Session)) func()
}

// Config はControllerの設定。
type Config struct {
	// Cooldown はレートリミット後のクールダウン期間。0の場合は60秒。
	Cooldown time.Duration
	// Clock は時刻とタイマーの供給元。nilの場合は実時間。
	Clock Clock
	// OAuthRedirectURL はOAuthフロー完了後の戻り先URL。
	OAuthRedirectURL string
}

// View はControllerの外部から観測可能な状態のスナップショット。
type View struct {
	State        State
	UserEmail    string
	Busy         bool
	ErrorMessage string
	InfoMessage  string
	Cooldown     bool
}

// Controller は認証状態の状態機械。
// 状態遷移はバックエンドからの非同期通知によってのみ駆動され、
// ローカルで推測されることはない。
type Controller struct {
	client AuthClient
	clock  Clock
	config Config

	mu            sync.Mutex
	state         State
	user          *model.User
	busy          bool
	errorMessage  string
	infoMessage   string
	cooldown      bool
	cooldownTimer Timer
	unsubscribe   func()
	observers     map[int]func()
	nextObserver  int
	closed        bool
}

// NewController はControllerを生成する。
func NewController(client AuthClient, config Config) *Controller {
	if config.Cooldown <= 0 {
		config.Cooldown = defaultCooldown
	}
	clock := config.Clock
	if clock == nil {
		clock = NewRealClock()
	}
	return &Controller{
		client:    client,
		clock:     clock,
		config:    config,
		state:     StateLoading,
		observers: make(map[int]func()),
	}
}

// Start は認証状態変化の購読を開始する。
// 最初の通知が届くまでStateLoadingのままとなる。
func (c *Controller) Start() {
	c.unsubscribe = c.client.OnAuthStateChange(c.handleAuthChange)
}

// Close は購読を解除し、クールダウンタイマーを停止する。
// Close後に届いた通知は無視される。
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.cooldownTimer != nil {
		c.cooldownTimer.Stop()
		c.cooldownTimer = nil
	}
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Snapshot は現在の観測可能な状態を返す。
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		State:        c.state,
		Busy:         c.busy,
		ErrorMessage: c.errorMessage,
		InfoMessage:  c.infoMessage,
		Cooldown:     c.cooldown,
	}
	if c.user != nil {
		v.UserEmail = c.user.Email
	}
	return v
}

// User は現在の認証済みユーザーを返す。未認証の場合はnil。
func (c *Controller) User() *model.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// Subscribe は状態変化の通知を受けるオブザーバを登録し、解除関数を返す。
// 登録側はティアダウン時に解除する責務を負う。
func (c *Controller) Subscribe(fn func()) func() {
	c.mu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// SubmitMagicLink はワンタイムサインインリンクの送信を要求する。
// クールダウン中はネットワーク呼び出しを行わず、固定文言のみ表示する。
// レートリミットを示すエラーを受けるとクールダウンに入り、
// タイマー経過で自動解除される。手動の解除手段はない。
func (c *Controller) SubmitMagicLink(ctx context.Context, email string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.cooldown {
		c.errorMessage = cooldownWaitMessage
		c.mu.Unlock()
		c.notify()
		return
	}
	c.busy = true
	c.errorMessage = ""
	c.infoMessage = ""
	c.mu.Unlock()
	c.notify()

	err := c.client.SignInWithMagicLink(ctx, email)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.busy = false
	if err != nil {
		slog.Error("magic link sign-in failed", slog.String("error", err.Error()))
		if isRateLimitError(err.Error()) {
			c.errorMessage = rateLimitMessage
			c.startCooldownLocked()
		} else {
			c.errorMessage = err.Error()
		}
	} else {
		// この呼び出しは認証自体を行わない。ユーザーがリンクを踏むと
		// 認証状態変化の購読経由で状態が遷移する。
		c.infoMessage = magicLinkSentMessage
	}
	c.mu.Unlock()
	c.notify()
}

// SubmitPasswordSignIn は保存済みの資格情報で認証を試みる。
// 状態の遷移は呼び出しの返り値ではなく認証状態の購読に委ねる。
func (c *Controller) SubmitPasswordSignIn(ctx context.Context, email, password string) {
	c.submitAuth(func() error {
		_, err := c.client.SignInWithEmail(ctx, email, password)
		return err
	})
}

// SubmitSignUp は新規の資格情報付きアイデンティティを登録する。
// バックエンドがメール確認を要求する場合、セッションは発行されず
// 案内文言のみ表示される。
func (c *Controller) SubmitSignUp(ctx context.Context, email, password string) {
	c.submitAuth(func() error {
		sess, err := c.client.SignUpWithEmail(ctx, email, password)
		if err != nil {
			return err
		}
		if sess == nil {
			c.mu.Lock()
			c.infoMessage = confirmEmailMessage
			c.mu.Unlock()
		}
		return nil
	})
}

// SubmitGoogleSignIn は第三者IDプロバイダへの委譲URLを取得して返す。
// 認証の完了はリダイレクト後に認証状態の購読経由で通知される。
func (c *Controller) SubmitGoogleSignIn() string {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ""
	}
	c.errorMessage = ""
	c.infoMessage = ""
	c.mu.Unlock()

	redirectURL, err := c.client.SignInWithGoogle(c.config.OAuthRedirectURL)
	if err != nil {
		c.mu.Lock()
		c.errorMessage = err.Error()
		c.mu.Unlock()
		c.notify()
		return ""
	}
	return redirectURL
}

// SignOut は現在のセッションを失効させる。
// unauthenticatedへの遷移は認証状態の購読が行う。
func (c *Controller) SignOut(ctx context.Context) {
	c.submitAuth(func() error {
		return c.client.SignOut(ctx)
	})
}

// submitAuth は認証系操作の共通フロー。busyフラグを立て、エラーを
// 単一のエラースロットに記録する。スロットは新しい試行のたびに上書きされる。
func (c *Controller) submitAuth(call func() error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.busy = true
	c.errorMessage = ""
	c.infoMessage = ""
	c.mu.Unlock()
	c.notify()

	err := call()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.busy = false
	if err != nil {
		slog.Error("auth operation failed", slog.String("error", err.Error()))
		c.errorMessage = err.Error()
	}
	c.mu.Unlock()
	c.notify()
}

// handleAuthChange はバックエンドからの認証状態通知を処理する。
// セッションの有無のみで状態を決定する。
func (c *Controller) handleAuthChange(sess *model.Session) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if sess != nil && sess.User != nil {
		c.user = sess.User
		c.state = StateAuthenticated
	} else {
		c.user = nil
		c.state = StateUnauthenticated
	}
	c.busy = false
	c.mu.Unlock()
	c.notify()
}

// startCooldownLocked はクールダウンを開始する。呼び出し側がロックを保持していること。
// 解除はタイマー経過によってのみ行われ、サーバーとの往復は発生しない。
func (c *Controller) startCooldownLocked() {
	c.cooldown = true
	if c.cooldownTimer != nil {
		c.cooldownTimer.Stop()
	}
	c.cooldownTimer = c.clock.AfterFunc(c.config.Cooldown, c.clearCooldown)
}

// clearCooldown はクールダウンを解除する。
func (c *Controller) clearCooldown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.cooldown = false
	c.cooldownTimer = nil
	c.mu.Unlock()
	c.notify()
}

// notify は登録済みオブザーバに変更を通知する。
// デッドロックを避けるためロックの外で呼び出す。
func (c *Controller) notify() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
