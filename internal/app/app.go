package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/todosync/internal/backend"
	"github.com/hitoshi/todosync/internal/config"
	"github.com/hitoshi/todosync/internal/handler"
	"github.com/hitoshi/todosync/internal/logger"
	"github.com/hitoshi/todosync/internal/metrics"
	"github.com/hitoshi/todosync/internal/middleware"
	"github.com/hitoshi/todosync/internal/security"
	"github.com/hitoshi/todosync/internal/session"
	"github.com/hitoshi/todosync/internal/todo"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
// バックエンドのエンドポイントURLと公開APIキーの欠落は起動時の致命的エラー。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("backend_url", maskBackendURL(cfg.BackendURL)),
	)

	return runServe(cfg)
}

// runServe はWebサーバーモードで起動する。
// バックエンドクライアントと全コンポーネントをワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 2. バックエンドクライアントの生成（プロセス生存期間で1インスタンス）
	client := backend.NewClient(backend.Config{
		BaseURL:                cfg.BackendURL,
		APIKey:                 cfg.BackendAnonKey,
		Timeout:                cfg.BackendTimeout,
		RealtimeInitialBackoff: cfg.RealtimeInitialBackoff,
		RealtimeMaxBackoff:     cfg.RealtimeMaxBackoff,
		Metrics:                collector,
	})
	defer client.Close()

	// 3. セッションコントローラの起動
	sessionCtl := session.NewController(client, session.Config{
		Cooldown:         cfg.MagicLinkCooldown,
		OAuthRedirectURL: cfg.OAuthRedirectURL,
	})
	sessionCtl.Start()
	defer sessionCtl.Close()

	// 4. Todoストアと作成フォームの起動
	store := todo.NewStore(client)
	store.Start(context.Background())
	defer store.Close()

	sanitizer := security.NewTaskSanitizer()
	form := todo.NewForm(client, sanitizer, func() {
		store.Fetch(context.Background())
	})

	// 5. 認証成立時にTodo一覧の初回フェッチを行う
	// （未認証中のフェッチはストア側で無視されるため、遷移を監視する）
	unsubscribe := sessionCtl.Subscribe(newAuthFetchTrigger(sessionCtl.Snapshot, func() {
		store.Fetch(context.Background())
	}))
	defer unsubscribe()

	// 6. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitAuth > 0 {
		rateLimiterCfg.AuthRate = rate.Limit(float64(cfg.RateLimitAuth) / 60.0)
		rateLimiterCfg.AuthBurst = cfg.RateLimitAuth
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Session:         sessionCtl,
		Todos:           store,
		Form:            form,
		RateLimiter:     rateLimiter,
		Logger:          slog.Default(),
		MetricsGatherer: registry,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// SSEの長寿命接続があるためWriteTimeoutは設定しない
		IdleTimeout: 60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newAuthFetchTrigger は未認証から認証済みへの遷移を検知してfetchを1回呼び出す
// オブザーバを返す。オブザーバはHTTPハンドラーやバックエンドの通知など複数の
// goroutineから呼ばれるため、前回状態の読み書きはロックで保護する。
func newAuthFetchTrigger(snapshot func() session.View, fetch func()) func() {
	var mu sync.Mutex
	var wasAuthenticated bool

	return func() {
		authenticated := snapshot().State == session.StateAuthenticated

		mu.Lock()
		entered := authenticated && !wasAuthenticated
		wasAuthenticated = authenticated
		mu.Unlock()

		if entered {
			fetch()
		}
	}
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskBackendURL はログ出力用にバックエンドURLを短縮する。
func maskBackendURL(url string) string {
	if len(url) > 40 {
		return url[:40] + "..."
	}
	return url
}
