package setting

import (
	"context"
	"sync"
	"time"

	"z-novel-setting-api/internal/domain/entity"
)

// Channel 事件流类别
type Channel string

const (
	ChannelGeneration   Channel = "generation"
	ChannelModification Channel = "modification"
)

// ParseChannel 空值视为 generation
func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case "", ChannelGeneration:
		return ChannelGeneration, true
	case ChannelModification:
		return ChannelModification, true
	default:
		return "", false
	}
}

// EventStream 单个会话单个类别的事件流：保留全部历史用于回放
type EventStream struct {
	mu     sync.Mutex
	events []entity.GenerationEvent
	notify chan struct{}
	closed bool
}

func newEventStream() *EventStream {
	return &EventStream{notify: make(chan struct{})}
}

// publish 追加事件并唤醒订阅者；已关闭的流丢弃事件
func (s *EventStream) publish(ev entity.GenerationEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events = append(s.events, ev)
	close(s.notify)
	s.notify = make(chan struct{})
	return true
}

func (s *EventStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}

// since 返回 cursor 之后的事件、下一次唤醒通道以及是否已关闭
func (s *EventStream) since(cursor int) ([]entity.GenerationEvent, <-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.GenerationEvent
	if cursor < len(s.events) {
		out = append(out, s.events[cursor:]...)
	}
	return out, s.notify, s.closed
}

func (s *EventStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Events 事件历史副本
func (s *EventStream) Events() []entity.GenerationEvent {
	evs, _, _ := s.since(0)
	return evs
}

// EventHub 按会话维护 generation / modification 两类事件流
type EventHub struct {
	mu        sync.Mutex
	streams   map[Channel]map[string]*EventStream
	heartbeat time.Duration
	now       func() time.Time
}

func NewEventHub(heartbeat time.Duration) *EventHub {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &EventHub{
		streams: map[Channel]map[string]*EventStream{
			ChannelGeneration:   {},
			ChannelModification: {},
		},
		heartbeat: heartbeat,
		now:       time.Now,
	}
}

// stream 获取事件流，不存在时创建
func (h *EventHub) stream(ch Channel, sessionID string) *EventStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[ch][sessionID]
	if !ok {
		s = newEventStream()
		h.streams[ch][sessionID] = s
	}
	return s
}

// Reopen 若上一次的流已关闭则替换为新流（用于每次修改操作）
func (h *EventHub) Reopen(ch Channel, sessionID string) *EventStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[ch][sessionID]
	if !ok || s.isClosed() {
		s = newEventStream()
		h.streams[ch][sessionID] = s
	}
	return s
}

// Publish 发布事件，返回构造出的事件
func (h *EventHub) Publish(ch Channel, sessionID string, payload entity.EventPayload) entity.GenerationEvent {
	ev := entity.NewGenerationEvent(sessionID, payload, h.now())
	h.stream(ch, sessionID).publish(ev)
	return ev
}

// Close 结束事件流；订阅者收完历史后退出
func (h *EventHub) Close(ch Channel, sessionID string) {
	h.mu.Lock()
	s, ok := h.streams[ch][sessionID]
	h.mu.Unlock()
	if ok {
		s.close()
	}
}

// Remove 删除会话的全部事件流
func (h *EventHub) Remove(sessionID string) {
	h.mu.Lock()
	var toClose []*EventStream
	for ch := range h.streams {
		if s, ok := h.streams[ch][sessionID]; ok {
			toClose = append(toClose, s)
			delete(h.streams[ch], sessionID)
		}
	}
	h.mu.Unlock()
	for _, s := range toClose {
		s.close()
	}
}

// History 返回事件历史
func (h *EventHub) History(ch Channel, sessionID string) []entity.GenerationEvent {
	h.mu.Lock()
	s, ok := h.streams[ch][sessionID]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Events()
}

// Subscribe 订阅事件流：先收到 stream_ready，再依次收到历史与后续事件。
// 心跳只在没有新事件且流未结束时发出，终止事件或流关闭后通道关闭。
func (h *EventHub) Subscribe(ctx context.Context, ch Channel, sessionID string) <-chan entity.GenerationEvent {
	s := h.stream(ch, sessionID)
	out := make(chan entity.GenerationEvent, 16)

	go func() {
		defer close(out)

		send := func(ev entity.GenerationEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(entity.NewGenerationEvent(sessionID, entity.StreamReady{Channel: string(ch)}, h.now())) {
			return
		}

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		cursor := 0
		for {
			evs, wait, closed := s.since(cursor)
			for _, ev := range evs {
				if !send(ev) {
					return
				}
				cursor++
				if ev.IsTerminal() {
					return
				}
			}
			if closed {
				return
			}

			select {
			case <-wait:
			case <-ticker.C:
				pending, _, closedNow := s.since(cursor)
				if len(pending) > 0 || closedNow {
					continue
				}
				if !send(entity.NewGenerationEvent(sessionID, entity.Heartbeat{}, h.now())) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
