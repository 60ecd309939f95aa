// Package todo はTodo一覧のインメモリ状態と同期を提供する。
//
// Storeはサーバーを唯一の情報源として扱う。変更フィードのイベントは
// 内容を解釈せず、全件再フェッチによって整合性を回復する（粗い無効化戦略）。
package todo

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/todosync/internal/model"
)

// Client はStoreが必要とするバックエンド操作のインターフェース。
// backend.Clientの部分集合として定義する。
type Client interface {
	GetCurrentUser() *model.User
	ListTodos(ctx context.Context) ([]model.Todo, error)
	UpdateTodo(ctx context.Context, id string, fields map[string]any) error
	DeleteTodo(ctx context.Context, id string) error
	SubscribeTodoChanges(fn func(model.ChangeEvent)) func()
}

// Store は認証済みユーザーのTodo一覧をメモリ上に保持する。
// 一覧の並び順は常に最後に成功したフェッチの返した順序であり、
// クライアント側で並べ替えることはない。
type Store struct {
	client Client

	mu           sync.Mutex
	items        []model.Todo
	unsubscribe  func()
	observers    map[int]func()
	nextObserver int
	closed       bool
}

// NewStore はStoreを生成する。
func NewStore(client Client) *Store {
	return &Store{
		client:    client,
		observers: make(map[int]func()),
	}
}

// Start は初回フェッチを行い、変更フィードの購読を開始する。
// 自セッション・他セッションを問わず、イベント1件につき
// ちょうど1回のフェッチが発生する。
func (s *Store) Start(ctx context.Context) {
	s.Fetch(ctx)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.unsubscribe = s.client.SubscribeTodoChanges(func(model.ChangeEvent) {
		s.Fetch(context.Background())
	})
	s.mu.Unlock()
}

// Close は変更フィードの購読を解除する。
// Close後に完了したフェッチや更新は状態に反映されない。
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Items は現在の一覧のコピーを返す。
func (s *Store) Items() []model.Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]model.Todo, len(s.items))
	copy(items, s.items)
	return items
}

// Subscribe は一覧の変化を通知するオブザーバを登録し、解除関数を返す。
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Fetch は現在のユーザーの全Todoを取得し、一覧を丸ごと差し替える。
// 認証済みユーザーがいない場合は何もしない。失敗時はログに記録し、
// 直前の一覧をそのまま残す。
func (s *Store) Fetch(ctx context.Context) {
	if s.client.GetCurrentUser() == nil {
		return
	}

	items, err := s.client.ListTodos(ctx)
	if err != nil {
		slog.Error("failed to fetch todos", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.items = items
	s.mu.Unlock()
	s.notify()
}

// Toggle は指定IDの完了フラグを反転させる更新を発行する。
// ローカル状態の書き換えはサーバーが確認を返した後にのみ行い、
// 失敗時は何も変更しない（先行適用していないためロールバックも不要）。
func (s *Store) Toggle(ctx context.Context, id string) {
	s.mu.Lock()
	var next bool
	found := false
	for _, item := range s.items {
		if item.ID == id {
			next = !item.IsCompleted
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		slog.Warn("toggle requested for unknown todo", slog.String("id", id))
		return
	}

	if err := s.client.UpdateTodo(ctx, id, map[string]any{"is_completed": next}); err != nil {
		slog.Error("failed to update todo", slog.String("id", id), slog.String("error", err.Error()))
		return
	}

	// 全件再フェッチはせず、確認済みの反転だけをローカルに適用する
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].IsCompleted = next
			break
		}
	}
	s.mu.Unlock()
	s.notify()
}

// Delete は指定IDのTodoを削除する。成功時のみローカル一覧から取り除き、
// 失敗時は一覧を変更しない。
func (s *Store) Delete(ctx context.Context, id string) {
	if err := s.client.DeleteTodo(ctx, id); err != nil {
		slog.Error("failed to delete todo", slog.String("id", id), slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	filtered := s.items[:0]
	for _, item := range s.items {
		if item.ID != id {
			filtered = append(filtered, item)
		}
	}
	s.items = filtered
	s.mu.Unlock()
	s.notify()
}

// notify は登録済みオブザーバに変更を通知する。
// デッドロックを避けるためロックの外で呼び出す。
func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
