package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/todosync/internal/model"
)

// todosPath はtodosコレクションのRESTパス。
const todosPath = "/rest/v1/todos"

// 行の絞り込みはバックエンドの行レベルセキュリティが行う。
// クライアント側でオーナーによるフィルタリングは行わない。

// ListTodos は現在のユーザーのTodo一覧を作成日時の降順で取得する。
func (c *Client) ListTodos(ctx context.Context) ([]model.Todo, error) {
	start := time.Now()

	params := url.Values{
		"select": {"*"},
		"order":  {"created_at.desc"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+todosPath+"?"+params.Encode(), nil)
	if err != nil {
		c.recordRequest("list_todos", err, start)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(c.newRequest(req))
	if err != nil {
		c.recordRequest("list_todos", err, start)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := decodeError(resp)
		c.recordRequest("list_todos", err, start)
		return nil, err
	}

	var todos []model.Todo
	if err := json.NewDecoder(resp.Body).Decode(&todos); err != nil {
		c.recordRequest("list_todos", err, start)
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.recordRequest("list_todos", nil, start)
	return todos, nil
}

// InsertTodo は新しいTodoを作成する。IDと作成日時はバックエンドが採番する。
// オーナーは現在の認証ユーザーに紐付く。未認証の場合はエラーを返す。
func (c *Client) InsertTodo(ctx context.Context, task string) error {
	start := time.Now()

	user := c.GetCurrentUser()
	if user == nil {
		err := &model.BackendError{Status: http.StatusUnauthorized, Message: "not signed in"}
		c.recordRequest("insert_todo", err, start)
		return err
	}

	err := c.writeTodos(ctx, http.MethodPost, todosPath, map[string]any{
		"task":    task,
		"user_id": user.ID,
	})
	c.recordRequest("insert_todo", err, start)
	return err
}

// UpdateTodo は指定IDのTodoのフィールドを更新する。
// taskの書き換えは契約上存在しないため、呼び出し側はis_completedのみを渡す。
func (c *Client) UpdateTodo(ctx context.Context, id string, fields map[string]any) error {
	start := time.Now()
	err := c.writeTodos(ctx, http.MethodPatch, todosPath+"?id=eq."+url.QueryEscape(id), fields)
	c.recordRequest("update_todo", err, start)
	return err
}

// DeleteTodo は指定IDのTodoを削除する。
func (c *Client) DeleteTodo(ctx context.Context, id string) error {
	start := time.Now()
	err := c.writeTodos(ctx, http.MethodDelete, todosPath+"?id=eq."+url.QueryEscape(id), nil)
	c.recordRequest("delete_todo", err, start)
	return err
}

// writeTodos はtodosコレクションへの書き込みリクエストを実行する。
func (c *Client) writeTodos(ctx context.Context, method, path string, body any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.http.Do(c.newRequest(req))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return nil
}
