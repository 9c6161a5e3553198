// Package progress はジョブごとの進捗イベントを現在の観測者へ配信します。
package progress

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	// 観測者ごとのイベントバッファ。溢れた分は破棄されます。
	eventBufferSize = 16
	sendTimeout     = 5 * time.Second
)

// Sender は観測者のトランスポート（WebSocket等）への書き込みを抽象化します。
type Sender interface {
	Send(ctx context.Context, event Event) error
}

// Observer は1つのジョブIDに対する登録済み観測者です。
// Attach が返すポインタがそのまま登録ハンドルになります。
type Observer struct {
	jobID    string
	sender   Sender
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
}

// stop は配信ポンプを止めます。トランスポート自体は閉じません。
func (o *Observer) stop() {
	o.stopOnce.Do(func() {
		close(o.done)
	})
}

// Hub はジョブIDごとに最大1つの観測者を保持するレジストリです。
// Attach/Detach/Publish は単一のロックで直列化されます。
type Hub struct {
	mu        sync.Mutex
	observers map[string]*Observer
	logger    *log.Logger
}

// NewHub は Hub を作成します。
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		observers: make(map[string]*Observer),
		logger:    logger,
	}
}

// Attach は呼び出し元をジョブの唯一の観測者として登録します。
// 同じジョブに既存の登録がある場合は置き換えます（後勝ち）。
// 置き換えられた観測者の配信は止まりますが、接続は閉じられません。
func (h *Hub) Attach(jobID string, sender Sender) *Observer {
	obs := &Observer{
		jobID:  jobID,
		sender: sender,
		events: make(chan Event, eventBufferSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	prev := h.observers[jobID]
	h.observers[jobID] = obs
	h.mu.Unlock()

	if prev != nil {
		prev.stop()
	}

	go h.pump(obs)
	return obs
}

// Detach はハンドルが現在の登録と一致する場合のみ登録を解除します。
// 置き換え済みの古いハンドルによる解除は新しい登録に影響しません。
func (h *Hub) Detach(jobID string, obs *Observer) {
	if obs == nil {
		return
	}

	h.mu.Lock()
	if h.observers[jobID] == obs {
		delete(h.observers, jobID)
	}
	h.mu.Unlock()

	obs.stop()
}

// Publish は現在の観測者へイベントを渡します。観測者がいない場合は何もしません。
// 観測者のバッファが満杯でもブロックせず、イベントを破棄します。
func (h *Hub) Publish(jobID string, event Event) {
	h.mu.Lock()
	obs := h.observers[jobID]
	h.mu.Unlock()

	if obs == nil {
		return
	}

	select {
	case obs.events <- event:
	default:
		h.logger.Printf("progress: observer buffer full, dropping event job=%s", jobID)
	}
}

// pump は観測者専用のゴルーチンでイベントを順に送信します。
// 送信エラーは暗黙のデタッチとして扱い、発行側には伝播させません。
func (h *Hub) pump(obs *Observer) {
	for {
		select {
		case <-obs.done:
			return
		case event := <-obs.events:
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			err := obs.sender.Send(ctx, event)
			cancel()
			if err != nil {
				h.logger.Printf("progress: send failed, detaching observer job=%s: %v", obs.jobID, err)
				h.Detach(obs.jobID, obs)
				return
			}
		}
	}
}
