package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

// newTodoRouter はchiのURLパラメータ解決込みでTodoHandlerをマウントする。
func newTodoRouter(todos TodoServiceInterface, form FormServiceInterface) http.Handler {
	h := NewTodoHandler(todos, form)
	r := chi.NewRouter()
	r.Post("/todos", h.Add)
	r.Post("/todos/{id}/toggle", h.Toggle)
	r.Post("/todos/{id}/delete", h.Delete)
	return r
}

func TestTodoHandler_Add_ClearsInputOnSuccess(t *testing.T) {
	var gotTask string
	form := &mockFormService{
		submitFn: func(ctx context.Context, task string) string {
			gotTask = task
			return ""
		},
	}
	router := newTodoRouter(&mockTodoService{}, form)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, postForm("/todos", "task=buy+milk"))

	if gotTask != "buy milk" {
		t.Errorf("task = %q, want buy milk", gotTask)
	}
	if w.Result().StatusCode != http.StatusSeeOther {
		t.Errorf("status = %d, want 303", w.Result().StatusCode)
	}
	if loc := w.Result().Header.Get("Location"); loc != "/" {
		t.Errorf("location = %q, want / (input cleared)", loc)
	}
}

func TestTodoHandler_Add_RetainsInputOnFailure(t *testing.T) {
	form := &mockFormService{
		submitFn: func(ctx context.Context, task string) string {
			// 作成失敗の想定で入力テキストを返す
			return task
		},
	}
	router := newTodoRouter(&mockTodoService{}, form)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, postForm("/todos", "task=buy+milk"))

	if loc := w.Result().Header.Get("Location"); loc != "/?task=buy+milk" {
		t.Errorf("location = %q, want /?task=buy+milk (input retained)", loc)
	}
}

func TestTodoHandler_Toggle_PassesID(t *testing.T) {
	var gotID string
	todos := &mockTodoService{
		toggleFn: func(ctx context.Context, id string) { gotID = id },
	}
	router := newTodoRouter(todos, &mockFormService{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, postForm("/todos/t1/toggle", ""))

	if gotID != "t1" {
		t.Errorf("id = %q, want t1", gotID)
	}
	if w.Result().StatusCode != http.StatusSeeOther {
		t.Errorf("status = %d, want 303", w.Result().StatusCode)
	}
}

func TestTodoHandler_Delete_PassesID(t *testing.T) {
	var gotID string
	todos := &mockTodoService{
		deleteFn: func(ctx context.Context, id string) { gotID = id },
	}
	router := newTodoRouter(todos, &mockFormService{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, postForm("/todos/t1/delete", ""))

	if gotID != "t1" {
		t.Errorf("id = %q, want t1", gotID)
	}
}
