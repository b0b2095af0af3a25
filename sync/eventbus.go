package sync

import (
	gosync "sync"
)

// Event is a progress update broadcast to SSE clients.
type Event struct {
	Type    string  `json:"type"`
	Op      string  `json:"op,omitempty"`
	Path    string  `json:"path,omitempty"`
	Outcome string  `json:"outcome,omitempty"`
	Error   string  `json:"error,omitempty"`
	Report  *Report `json:"report,omitempty"`
}

// EventBus broadcasts Events to all connected SSE clients.
// A nil *EventBus drops everything, so engines can publish unconditionally.
type EventBus struct {
	mu      gosync.RWMutex
	clients map[chan Event]struct{}
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		clients: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a new client and returns its event channel.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish sends an event to all connected clients.
// Slow clients are skipped (non-blocking send).
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			// slow client, drop event
		}
	}
}
