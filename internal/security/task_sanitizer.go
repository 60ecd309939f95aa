// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TaskSanitizerService はTodoのタスクテキストをサニタイズし、
// ページに描画される文字列に対するXSSリスクからユーザーを保護する。
// bluemondayライブラリのStrictPolicyですべてのHTMLタグを除去する。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// TaskSanitizerService はタスクテキストのサニタイズ機能のインターフェースを定義する。
// Todo作成の保存前に使用される。
type TaskSanitizerService interface {
	// Sanitize はタスクテキストからすべてのHTMLタグを除去して返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(task string) string
}

// taskSanitizer はTaskSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type taskSanitizer struct {
	policy *bluemonday.Policy
}

// NewTaskSanitizer はTaskSanitizerServiceの新しいインスタンスを生成する。
// タスクテキストは自由記述のプレーンテキストであり、HTMLを許可する
// 理由がないため、許可リストが空のStrictPolicyを使用する。
func NewTaskSanitizer() *taskSanitizer {
	return &taskSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタスクテキストからすべてのHTMLタグを除去する。
func (s *taskSanitizer) Sanitize(task string) string {
	return s.policy.Sanitize(task)
}

// compile-time interface check
var _ TaskSanitizerService = (*taskSanitizer)(nil)
