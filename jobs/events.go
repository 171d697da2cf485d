package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/forgedev/codeforge/internal/channel"
)

// ErrSubscriptionClosed 订阅已关闭后调用 Next 返回。
var ErrSubscriptionClosed = errors.New("subscription closed")

// Event 是一次任务状态变更，按 ref 发布给所有订阅者。
type Event struct {
	Ref        string    `json:"ref"`
	Status     Status    `json:"status"`
	Items      int       `json:"items"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Hub 维护按 ref 分组的状态事件订阅。发布方永不阻塞：
// 订阅者缓冲满时事件被丢弃并计数，websocket 客户端以
// 状态端点为准、事件流为辅。
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	closed  bool
	dropped atomic.Int64
	logger  *zap.Logger
}

// Subscription 是单个订阅者的事件通道。
type Subscription struct {
	ref    string
	events *channel.TunableChannel[Event]
	hub    *Hub
	done   chan struct{}
	once   sync.Once
}

// NewHub 创建事件中枢。
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger.With(zap.String("component", "event_hub")),
	}
}

// Subscribe 为指定 ref 注册订阅者。中枢关闭后返回的订阅立即处于
// 关闭状态。调用方用完必须 Close，否则订阅泄漏。
func (h *Hub) Subscribe(ref string) *Subscription {
	sub := &Subscription{
		ref:    ref,
		events: channel.NewTunableChannel[Event](channel.DefaultTunableConfig()),
		hub:    h,
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.markDone()
		return sub
	}

	group, ok := h.subs[ref]
	if !ok {
		group = make(map[*Subscription]struct{})
		h.subs[ref] = group
	}
	group[sub] = struct{}{}
	return sub
}

// Publish 把事件分发给该 ref 的所有订阅者。非阻塞，慢订阅者丢事件。
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for sub := range h.subs[evt.Ref] {
		if !sub.events.TrySend(evt) {
			h.dropped.Add(1)
			h.logger.Debug("订阅者缓冲已满，事件被丢弃",
				zap.String("ref", evt.Ref),
				zap.String("status", string(evt.Status)))
		}
	}
}

// Subscribers 返回某个 ref 当前的订阅者数量。
func (h *Hub) Subscribers(ref string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[ref])
}

// Dropped 返回因订阅者缓冲满而丢弃的事件总数。
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close 关闭中枢及全部订阅。
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true

	var all []*Subscription
	for ref, group := range h.subs {
		for sub := range group {
			all = append(all, sub)
		}
		delete(h.subs, ref)
	}
	h.mu.Unlock()

	// 锁外唤醒，订阅方的 Close 可能正持有自己的 once
	for _, sub := range all {
		sub.markDone()
	}
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.subs[sub.ref]
	if !ok {
		return
	}
	delete(group, sub)
	if len(group) == 0 {
		delete(h.subs, sub.ref)
	}
}

// Next 阻塞等待下一条事件，订阅或 ctx 结束时返回错误。
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	select {
	case evt := <-s.events.Chan():
		return evt, nil
	case <-s.done:
		return Event{}, ErrSubscriptionClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Ref 返回该订阅关注的任务标识。
func (s *Subscription) Ref() string {
	return s.ref
}

// Close 注销订阅并唤醒阻塞中的 Next。可重复调用。
func (s *Subscription) Close() {
	s.markDone()
	s.hub.unsubscribe(s)
}

func (s *Subscription) markDone() {
	s.once.Do(func() { close(s.done) })
}
