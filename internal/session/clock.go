package session

import "time"

// Clock はタイマーの抽象。クールダウンの自動解除を
// テストで制御可能にするために注入する。
type Clock interface {
	// AfterFunc はd経過後にfを別goroutineで実行するタイマーを開始する。
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer は開始済みタイマーを表す。
type Timer interface {
	// Stop はタイマーを停止する。既に発火済みの場合はfalseを返す。
	Stop() bool
}

// realClock は実時間に基づくClockの実装。
type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// NewRealClock は実時間のClockを返す。
func NewRealClock() Clock {
	return realClock{}
}
