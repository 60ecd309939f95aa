package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/todosync/internal/middleware"
	"github.com/hitoshi/todosync/internal/model"
	"github.com/hitoshi/todosync/internal/session"
)

// --- モック定義 ---

type mockSessionService struct {
	snapshotFn           func() session.View
	submitMagicLinkFn    func(ctx context.Context, email string)
	submitPasswordFn     func(ctx context.Context, email, password string)
	submitSignUpFn       func(ctx context.Context, email, password string)
	submitGoogleSignInFn func() string
	signOutFn            func(ctx context.Context)
	subscribeFn          func(fn func()) func()
}

func (m *mockSessionService) Snapshot() session.View {
	if m.snapshotFn != nil {
		return m.snapshotFn()
	}
	return session.View{State: session.StateUnauthenticated}
}

func (m *mockSessionService) SubmitMagicLink(ctx context.Context, email string) {
	if m.submitMagicLinkFn != nil {
		m.submitMagicLinkFn(ctx, email)
	}
}

func (m *mockSessionService) SubmitPasswordSignIn(ctx context.Context, email, password string) {
	if m.submitPasswordFn != nil {
		m.submitPasswordFn(ctx, email, password)
	}
}

func (m *mockSessionService) SubmitSignUp(ctx context.Context, email, password string) {
	if m.submitSignUpFn != nil {
		m.submitSignUpFn(ctx, email, password)
	}
}

func (m *mockSessionService) SubmitGoogleSignIn() string {
	if m.submitGoogleSignInFn != nil {
		return m.submitGoogleSignInFn()
	}
	return ""
}

func (m *mockSessionService) SignOut(ctx context.Context) {
	if m.signOutFn != nil {
		m.signOutFn(ctx)
	}
}

func (m *mockSessionService) Subscribe(fn func()) func() {
	if m.subscribeFn != nil {
		return m.subscribeFn(fn)
	}
	return func() {}
}

type mockTodoService struct {
	itemsFn     func() []model.Todo
	toggleFn    func(ctx context.Context, id string)
	deleteFn    func(ctx context.Context, id string)
	subscribeFn func(fn func()) func()
}

func (m *mockTodoService) Items() []model.Todo {
	if m.itemsFn != nil {
		return m.itemsFn()
	}
	return nil
}

func (m *mockTodoService) Toggle(ctx context.Context, id string) {
	if m.toggleFn != nil {
		m.toggleFn(ctx, id)
	}
}

func (m *mockTodoService) Delete(ctx context.Context, id string) {
	if m.deleteFn != nil {
		m.deleteFn(ctx, id)
	}
}

func (m *mockTodoService) Subscribe(fn func()) func() {
	if m.subscribeFn != nil {
		return m.subscribeFn(fn)
	}
	return func() {}
}

type mockFormService struct {
	submitFn func(ctx context.Context, task string) string
}

func (m *mockFormService) Submit(ctx context.Context, task string) string {
	if m.submitFn != nil {
		return m.submitFn(ctx, task)
	}
	return ""
}

// --- compile-time interface checks ---
var _ SessionServiceInterface = (*mockSessionService)(nil)
var _ TodoServiceInterface = (*mockTodoService)(nil)
var _ FormServiceInterface = (*mockFormService)(nil)

// newTestRouter はデフォルトのモックでルーターを構築する。
func newTestRouter(t *testing.T, deps *RouterDeps) http.Handler {
	t.Helper()
	if deps.Session == nil {
		deps.Session = &mockSessionService{}
	}
	if deps.Todos == nil {
		deps.Todos = &mockTodoService{}
	}
	if deps.Form == nil {
		deps.Form = &mockFormService{}
	}
	if deps.RateLimiter == nil {
		rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
		t.Cleanup(rl.Stop)
		deps.RateLimiter = rl
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return NewRouter(deps)
}

// --- ルーティングのテスト ---

func TestRouter_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Result().StatusCode)
	}
	body, _ := io.ReadAll(w.Result().Body)
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want ok status", string(body))
	}
}

func TestRouter_MetricsEndpointOnlyWithGatherer(t *testing.T) {
	// Gathererなしでは404
	router := newTestRouter(t, &RouterDeps{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("without gatherer: status = %d, want 404", w.Result().StatusCode)
	}

	// Gathererありでは公開される
	router = newTestRouter(t, &RouterDeps{MetricsGatherer: prometheus.NewRegistry()})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("with gatherer: status = %d, want 200", w.Result().StatusCode)
	}
}

func TestRouter_AppliesSecurityHeadersAndRequestID(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Result().Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers are not applied")
	}
	if w.Result().Header.Get("X-Request-ID") == "" {
		t.Error("request id header is missing")
	}
}

func TestRouter_RecoversFromHandlerPanic(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{
		Session: &mockSessionService{
			snapshotFn: func() session.View { panic("boom") },
		},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Result().StatusCode)
	}
}

// TestRouter_PasswordSignInFlow はサインインから一覧表示までの一連の流れを検証する。
func TestRouter_PasswordSignInFlow(t *testing.T) {
	state := session.StateUnauthenticated
	email := ""
	sessionSvc := &mockSessionService{
		snapshotFn: func() session.View {
			return session.View{State: state, UserEmail: email}
		},
		submitPasswordFn: func(ctx context.Context, gotEmail, password string) {
			// 認証成功の通知が届いた想定で状態を遷移させる
			state = session.StateAuthenticated
			email = gotEmail
		},
	}
	todoSvc := &mockTodoService{
		itemsFn: func() []model.Todo {
			if state != session.StateAuthenticated {
				return nil
			}
			return []model.Todo{{ID: "t1", Task: "buy milk", UserID: "user-1"}}
		},
	}
	router := newTestRouter(t, &RouterDeps{Session: sessionSvc, Todos: todoSvc})

	// 未認証の初期ページは資格情報フォームを表示する
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	body, _ := io.ReadAll(w.Result().Body)
	if !strings.Contains(string(body), `action="/auth/signin"`) {
		t.Fatal("unauthenticated page must show the sign-in form")
	}

	// サインインのPOSTはページへリダイレクトする
	form := strings.NewReader("email=alice%40example.com&password=pw")
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusSeeOther {
		t.Fatalf("sign-in status = %d, want 303", w.Result().StatusCode)
	}

	// 認証後のページはユーザーのメールアドレスと一覧を表示する
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	body, _ = io.ReadAll(w.Result().Body)
	if !strings.Contains(string(body), "Logged in as: alice@example.com") {
		t.Error("authenticated page must show the signed-in email")
	}
	if !strings.Contains(string(body), "buy milk") {
		t.Error("authenticated page must show the todo list")
	}
}
