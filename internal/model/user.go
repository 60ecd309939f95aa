// Package model はドメインモデルを定義する。
package model

import "time"

// User はバックエンドの認証サービスが管理するユーザーを表す。
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session はバックエンドが発行した認証セッションを表す。
// トークンの発行・更新・失効はバックエンド側の責務であり、
// クライアントは受け取った値を保持するのみ。
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"-"`
	User         *User     `json:"user"`
}
