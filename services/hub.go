// services/hub.go
package services

import (
	"context"
	"sync"

	"rps-match-service/models"

	"github.com/charmbracelet/log"
)

// Notifier delivers match events. Implementations must not block the caller
// for long; delivery is best-effort.
type Notifier interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Subscription receives events for one match topic, or for every topic when
// created with SubscribeAll.
type Subscription struct {
	C     <-chan models.Event
	ch    chan models.Event
	topic string
	once  sync.Once
}

// Topic returns the match id this subscription listens on ("" for all).
func (s *Subscription) Topic() string { return s.topic }

// Hub is the in-process publish/subscribe fan-out keyed by match id.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Subscription]struct{}
	all     map[*Subscription]struct{}
	bufSize int
	logger  *log.Logger
}

func NewHub(logger *log.Logger, bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Hub{
		topics:  make(map[string]map[*Subscription]struct{}),
		all:     make(map[*Subscription]struct{}),
		bufSize: bufSize,
		logger:  logger.WithPrefix("hub"),
	}
}

// Subscribe registers interest in a single match. There is no replay:
// only events published after this call are delivered.
func (h *Hub) Subscribe(matchID string) *Subscription {
	sub := h.newSubscription(matchID)
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[matchID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[matchID] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// SubscribeAll registers a firehose subscription used by internal workers.
func (h *Hub) SubscribeAll() *Subscription {
	sub := h.newSubscription("")
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if sub.topic == "" {
		delete(h.all, sub)
	} else if subs, ok := h.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	h.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

// Publish hands ev to every subscriber of its match and to every firehose
// subscriber. A subscriber whose buffer is full misses the event.
func (h *Hub) Publish(_ context.Context, ev models.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered, dropped := 0, 0
	deliver := func(sub *Subscription) {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			dropped++
		}
	}
	for sub := range h.topics[ev.MatchID] {
		deliver(sub)
	}
	for sub := range h.all {
		deliver(sub)
	}

	if dropped > 0 {
		h.logger.Warn("Subscriber buffer full, event dropped", "match", ev.MatchID, "type", ev.Type, "dropped", dropped)
	}
	h.logger.Debug("Published event", "match", ev.MatchID, "type", ev.Type, "recipients", delivered)
	return nil
}

// SubscriberCount reports how many subscribers listen on matchID.
func (h *Hub) SubscriberCount(matchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[matchID])
}

// FirehoseCount reports how many SubscribeAll subscribers are attached.
func (h *Hub) FirehoseCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) newSubscription(topic string) *Subscription {
	ch := make(chan models.Event, h.bufSize)
	return &Subscription{C: ch, ch: ch, topic: topic}
}
