// Package model はドメインモデルを定義する。
package model

import "time"

// Todo はユーザーのTodoアイテムを表す。
// IDとCreatedAtはバックエンドが採番するため、クライアント側では不変として扱う。
// Taskは作成後に変更されない（編集操作は存在しない）。
type Todo struct {
	ID          string    `json:"id"`
	Task        string    `json:"task"`
	IsCompleted bool      `json:"is_completed"`
	UserID      string    `json:"user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// ChangeEvent はtodosテーブルへの変更通知を表す。
// 行やオーナーで絞り込まれていないため、受信側は自分に関係する状態を
// 再フェッチによって導出する必要がある。
type ChangeEvent struct {
	Type   string `json:"type"`  // INSERT / UPDATE / DELETE
	Table  string `json:"table"` // 常に "todos"
	Record []byte `json:"-"`     // 生のペイロード。粗い無効化戦略のため未解釈のまま保持する
}
