// Package model はドメインモデルを定義する。
package model

import "fmt"

// BackendError はバックエンドサービスが返した構造化エラーを表す。
// 少なくとも人間可読なMessageを持つことがバックエンドの契約で保証されている。
// レートリミット検出はMessageの部分文字列マッチに依存するため、
// 呼び出し側はMessageを書き換えずにそのまま伝搬すること。
type BackendError struct {
	Status  int    // HTTPステータスコード
	Message string // バックエンドが返した人間可読メッセージ
}

// Error はerrorインターフェースを実装する。
func (e *BackendError) Error() string {
	return e.Message
}

// APIError はUI向けHTTPエンドポイントの統一エラーフォーマットを表す。
// 原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotAuthenticated = "NOT_AUTHENTICATED"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeTodoNotFound     = "TODO_NOT_FOUND"
)

// NewNotAuthenticatedError は未認証エラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "You are not signed in.",
		Category: "auth",
		Action:   "Sign in and try again.",
	}
}

// NewInvalidRequestError は不正なリクエストエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Check the request parameters and try again.",
	}
}

// NewTodoNotFoundError は存在しないTodoへの操作エラーを生成する。
func NewTodoNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeTodoNotFound,
		Message:  fmt.Sprintf("Todo not found: %s", id),
		Category: "validation",
		Action:   "Reload the list and try again.",
	}
}
