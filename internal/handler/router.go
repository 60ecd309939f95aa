// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/todosync/internal/metrics"
	"github.com/hitoshi/todosync/internal/middleware"
	"github.com/hitoshi/todosync/internal/model"
	"github.com/hitoshi/todosync/internal/session"
)

// SessionServiceInterface はハンドラーが必要とするセッション操作のインターフェース。
type SessionServiceInterface interface {
	Snapshot() session.View
	SubmitMagicLink(ctx context.Context, email string)
	SubmitPasswordSignIn(ctx context.Context, email, password string)
	SubmitSignUp(ctx context.Context, email, password string)
	SubmitGoogleSignIn() string
	SignOut(ctx context.Context)
	Subscribe(fn func()) func()
}

// TodoServiceInterface はハンドラーが必要とするTodo一覧操作のインターフェース。
type TodoServiceInterface interface {
	Items() []model.Todo
	Toggle(ctx context.Context, id string)
	Delete(ctx context.Context, id string)
	Subscribe(fn func()) func()
}

// FormServiceInterface はハンドラーが必要とするTodo作成のインターフェース。
// Submitは入力欄に残すべきテキストを返す（成功時は空文字列）。
type FormServiceInterface interface {
	Submit(ctx context.Context, task string) string
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Session SessionServiceInterface
	Todos   TodoServiceInterface
	Form    FormServiceInterface

	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger

	// MetricsGatherer が設定されている場合のみ/metricsを公開する。
	MetricsGatherer prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders
//
// 認証操作（/auth/*）には専用のレート制限を追加する。
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	pageHandler := NewPageHandler(deps.Session, deps.Todos)
	authHandler := NewAuthHandler(deps.Session)
	todoHandler := NewTodoHandler(deps.Todos, deps.Form)
	eventsHandler := NewEventsHandler(deps.Session, deps.Todos)

	// --- 運用系のルート（レート制限なし） ---

	r.Get("/health", handleHealth)
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- アプリケーションのルート ---

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/", pageHandler.Show)
		r.Get("/events", eventsHandler.Stream)

		// 認証操作（専用レート制限を追加）
		r.Route("/auth", func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())

			r.Post("/magiclink", authHandler.MagicLink)
			r.Post("/signin", authHandler.PasswordSignIn)
			r.Post("/signup", authHandler.SignUp)
			r.Get("/google", authHandler.GoogleSignIn)
			r.Post("/signout", authHandler.SignOut)
		})

		// Todo操作
		r.Route("/todos", func(r chi.Router) {
			r.Post("/", todoHandler.Add)
			r.Post("/{id}/toggle", todoHandler.Toggle)
			r.Post("/{id}/delete", todoHandler.Delete)
		})
	})

	return r
}

// handleHealth はプロセスの生存確認に応答する。
// GET /health
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
