package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/todosync/internal/model"
)

// changesPath は変更フィードのエンドポイントパス。
// todosテーブルの全insert/update/deleteについてイベントが流れる。
// 行やオーナーでの絞り込みはなく、購読側が再フェッチで状態を導出する。
const changesPath = "/realtime/v1/changes"

// SubscribeTodoChanges はtodosテーブルの変更フィードを購読する。
// イベントごとにfnが購読goroutineから呼び出される。返り値の解除関数を
// 呼ぶと購読が終了する。解除はコンポーネントのアンマウント時に必須。
//
// 接続が切れた場合は指数バックオフで自動再接続する。配信はat-least-once
// であり、CRUDレスポンスとの順序は保証されない。
func (c *Client) SubscribeTodoChanges(fn func(model.ChangeEvent)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	subscriptionID := uuid.New().String()

	go c.streamChanges(ctx, subscriptionID, fn)

	return cancel
}

// streamChanges は変更フィードへの接続と再接続を繰り返す。
func (c *Client) streamChanges(ctx context.Context, subscriptionID string, fn func(model.ChangeEvent)) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.consumeStream(ctx, subscriptionID, fn, func() { attempt = 0 })
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("change feed disconnected",
				slog.String("subscription_id", subscriptionID),
				slog.String("error", err.Error()),
			)
		}

		delay := c.nextBackoff(attempt)
		attempt++

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consumeStream は変更フィードに1回接続し、切断されるまでイベントを配送する。
// onConnectedは接続成功時に呼ばれ、バックオフのリセットに使う。
func (c *Client) consumeStream(ctx context.Context, subscriptionID string, fn func(model.ChangeEvent), onConnected func()) error {
	params := url.Values{
		"table":        {"todos"},
		"subscription": {subscriptionID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+changesPath+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// ストリーミング接続にリクエストタイムアウトは適用できないため、
	// Timeoutを持たないクライアントで接続する。切断はコンテキストで行う。
	streamClient := &http.Client{Transport: c.http.Transport}
	resp, err := streamClient.Do(c.newRequest(req))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	onConnected()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		// 空行がイベントの区切り
		if line == "" {
			if data.Len() > 0 {
				if event, ok := parseChangeEvent(data.String()); ok {
					if c.metrics != nil {
						c.metrics.RecordRealtimeEvent()
					}
					fn(event)
				}
				data.Reset()
			}
			continue
		}

		if payload, found := strings.CutPrefix(line, "data:"); found {
			data.WriteString(strings.TrimPrefix(payload, " "))
		}
		// event:やid:などの他のSSEフィールドは使用しない
	}

	return scanner.Err()
}

// parseChangeEvent はSSEのdataペイロードをChangeEventに変換する。
// 不正なペイロードは捨てる。粗い無効化戦略のため、イベント内容の
// 妥当性を厳密に検証する必要はない。
func parseChangeEvent(data string) (model.ChangeEvent, bool) {
	var raw struct {
		Type  string `json:"type"`
		Table string `json:"table"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		slog.Warn("malformed change feed payload", slog.String("error", err.Error()))
		return model.ChangeEvent{}, false
	}
	return model.ChangeEvent{
		Type:   raw.Type,
		Table:  raw.Table,
		Record: []byte(data),
	}, true
}

// nextBackoff は再接続試行回数に基づく指数バックオフ遅延を計算する。
// 初回realtimeInitialBackoff、2倍ずつ増加、最大realtimeMaxBackoff。
func (c *Client) nextBackoff(attempt int) time.Duration {
	delay := c.realtimeInitialBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.realtimeMaxBackoff {
			return c.realtimeMaxBackoff
		}
	}
	if delay > c.realtimeMaxBackoff {
		return c.realtimeMaxBackoff
	}
	return delay
}
