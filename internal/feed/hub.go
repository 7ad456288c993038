package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"portal-backend/internal/chat"
)

// DefaultBuffer is the per-subscription event buffer.
const DefaultBuffer = 64

// Hub fans events out to in-process subscriptions. A subscription whose
// buffer is full is dropped with ErrTransientDelivery so that publishing
// never blocks on a slow consumer.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		buffer: DefaultBuffer,
		logger: logger,
	}
}

// Subscription is a Stream backed by a Hub.
type Subscription struct {
	id     uint64
	filter Filter
	hub    *Hub
	events chan Event

	mu   sync.Mutex
	err  error
	done bool
	stop func() bool
}

var _ Subscriber = (*Hub)(nil)
var _ Publisher = (*Hub)(nil)

// Subscribe registers a subscription. It is released by Close or when ctx
// is done.
func (h *Hub) Subscribe(ctx context.Context, filter Filter) (Stream, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: hub closed", chat.ErrTransientDelivery)
	}
	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		filter: filter,
		hub:    h,
		events: make(chan Event, h.buffer),
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	stop := context.AfterFunc(ctx, sub.Close)
	sub.mu.Lock()
	sub.stop = stop
	sub.mu.Unlock()
	return sub, nil
}

// Publish delivers e to every matching subscription and returns how many
// received it.
func (h *Hub) Publish(e Event) int {
	var slow []*Subscription
	delivered := 0

	h.mu.RLock()
	for _, sub := range h.subs {
		if !sub.filter.Matches(e) {
			continue
		}
		select {
		case sub.events <- e:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.Warn("dropping slow feed subscriber", "subscription", sub.id, "conversation_id", sub.filter.ConversationID, "table", sub.filter.Table)
		sub.end(fmt.Errorf("%w: subscriber buffer full", chat.ErrTransientDelivery))
	}
	return delivered
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Interrupt ends every live subscription with ErrTransientDelivery while
// keeping the hub open. The listener calls it when the upstream source lost
// events, so that subscribers resubscribe and backfill.
func (h *Hub) Interrupt(reason string) {
	h.endAll(false, reason)
}

// Close ends every subscription with ErrTransientDelivery and rejects new
// ones.
func (h *Hub) Close() {
	h.endAll(true, "hub closed")
}

func (h *Hub) endAll(closing bool, reason string) {
	h.mu.Lock()
	if closing {
		h.closed = true
	}
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.end(fmt.Errorf("%w: %s", chat.ErrTransientDelivery, reason))
	}
}

func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Close() { s.end(nil) }

func (s *Subscription) end(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.err = err
	stop := s.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}

	// Removing under the write lock guarantees no Publish is sending on the
	// channel when it is closed.
	s.hub.mu.Lock()
	delete(s.hub.subs, s.id)
	close(s.events)
	s.hub.mu.Unlock()
}
