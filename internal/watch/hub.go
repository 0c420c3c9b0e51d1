package watch

import (
	"sync"

	"github.com/skywinder/telegram-pars/internal/store"
)

const (
	// recentLimit bounds the replay buffer served to the dashboard.
	recentLimit = 50
	// listenerDepth is the per-subscriber channel buffer.
	listenerDepth = 16
)

// Hub fans change events out to subscribers and keeps a short replay buffer
// for the dashboard's recent-events view. All methods are safe for concurrent
// use.
type Hub struct {
	mu        sync.Mutex
	listeners map[chan store.ChangeEvent]struct{}
	recent    []store.ChangeEvent
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[chan store.ChangeEvent]struct{})}
}

// Subscribe registers a listener. The cancel function removes it; callers
// must invoke it when the listener goes away or the channel leaks.
func (h *Hub) Subscribe() (<-chan store.ChangeEvent, func()) {
	ch := make(chan store.ChangeEvent, listenerDepth)
	h.mu.Lock()
	h.listeners[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.listeners, ch)
		h.mu.Unlock()
	}
}

// Publish delivers the event to every listener and appends it to the replay
// buffer. A listener whose buffer is full misses the event rather than
// blocking the publisher.
func (h *Hub) Publish(ev store.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recent = append(h.recent, ev)
	if len(h.recent) > recentLimit {
		h.recent = h.recent[len(h.recent)-recentLimit:]
	}
	for ch := range h.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Recent returns up to limit of the most recent events, oldest first.
func (h *Hub) Recent(limit int) []store.ChangeEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	if limit <= 0 || limit > len(h.recent) {
		limit = len(h.recent)
	}
	out := make([]store.ChangeEvent, limit)
	copy(out, h.recent[len(h.recent)-limit:])
	return out
}
