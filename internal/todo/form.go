package todo

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/todosync/internal/model"
	"github.com/hitoshi/todosync/internal/security"
)

// FormClient はFormが必要とするバックエンド操作のインターフェース。
type FormClient interface {
	GetCurrentUser() *model.User
	InsertTodo(ctx context.Context, task string) error
}

// Form は新規Todoの入力を受け付け、作成をバックエンドに委譲する。
// 作成成功時はローカル挿入ではなくonAddコールバック（Storeの再フェッチ）を
// 呼び出し、サーバーが採番したIDと並び順を正とする。
type Form struct {
	client    FormClient
	sanitizer security.TaskSanitizerService
	onAdd     func()
}

// NewForm はFormを生成する。onAddは作成成功後に1回呼び出される。
func NewForm(client FormClient, sanitizer security.TaskSanitizerService, onAdd func()) *Form {
	return &Form{
		client:    client,
		sanitizer: sanitizer,
		onAdd:     onAdd,
	}
}

// Submit はタスクテキストを検証し、Todoを作成する。
// 戻り値は入力欄に残すべきテキスト。成功時は空（入力クリア）、
// 失敗時は元のテキストを返し、再送信を可能にする。
//
// トリム後に空のテキストはネットワーク呼び出しなしで拒否される。
// 認証済みユーザーがいない場合も黙って中断する（このフォームは
// 認証済み状態でのみ描画されるため、通常は起こらない）。
func (f *Form) Submit(ctx context.Context, task string) string {
	if strings.TrimSpace(task) == "" {
		return task
	}

	if f.client.GetCurrentUser() == nil {
		return task
	}

	clean := f.sanitizer.Sanitize(task)

	if err := f.client.InsertTodo(ctx, clean); err != nil {
		slog.Error("failed to add todo", slog.String("error", err.Error()))
		return task
	}

	if f.onAdd != nil {
		f.onAdd()
	}
	return ""
}
