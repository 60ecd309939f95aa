package handler

import (
	"fmt"
	"net/http"
	"time"
)

// keepAliveInterval はSSE接続を維持するためのコメント送信間隔。
const keepAliveInterval = 30 * time.Second

// Notifier は状態変化の購読契約。セッションコントローラとTodoストアが満たす。
type Notifier interface {
	Subscribe(fn func()) func()
}

// EventsHandler はブラウザへのServer-Sent Eventsプッシュを提供する。
// セッション状態またはTodo一覧が変化するたびにイベントを送り、
// 開いているタブ間のライブ同期を実現する。
type EventsHandler struct {
	notifiers []Notifier
}

// NewEventsHandler はEventsHandlerを生成する。
func NewEventsHandler(notifiers ...Notifier) *EventsHandler {
	return &EventsHandler{notifiers: notifiers}
}

// Stream はSSE接続を開き、状態変化のたびにイベントを送信する。
// 接続はクライアント切断まで維持され、切断時に購読は解除される。
// GET /events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// 通知をまとめるチャネル。連続する通知は1つに潰れてよい
	changed := make(chan struct{}, 1)
	push := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	unsubs := make([]func(), 0, len(h.notifiers))
	for _, n := range h.notifiers {
		unsubs = append(unsubs, n.Subscribe(push))
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-changed:
			fmt.Fprint(w, "data: update\n\n")
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
