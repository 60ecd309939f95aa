package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/todosync/internal/middleware"
	"github.com/hitoshi/todosync/internal/model"
)

// TodoHandler はTodo操作のHTTPハンドラー。
// データ操作の失敗はユーザーには表示されず、ログにのみ記録される。
// ページは試行した変更を反映しないまま再描画される。
type TodoHandler struct {
	todos TodoServiceInterface
	form  FormServiceInterface
}

// NewTodoHandler はTodoHandlerを生成する。
func NewTodoHandler(todos TodoServiceInterface, form FormServiceInterface) *TodoHandler {
	return &TodoHandler{todos: todos, form: form}
}

// Add は新規Todoを作成する。
// POST /todos
func (h *TodoHandler) Add(w http.ResponseWriter, r *http.Request) {
	task := r.PostFormValue("task")

	remaining := h.form.Submit(r.Context(), task)

	target := "/"
	if remaining != "" {
		// 失敗時は入力テキストを入力欄に残して再送信できるようにする
		target = "/?task=" + url.QueryEscape(remaining)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// Toggle は完了フラグを反転させる。
// POST /todos/{id}/toggle
func (h *TodoHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("todo id is required"))
		return
	}

	h.todos.Toggle(r.Context(), id)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Delete はTodoを削除する。
// POST /todos/{id}/delete
func (h *TodoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("todo id is required"))
		return
	}

	h.todos.Delete(r.Context(), id)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
