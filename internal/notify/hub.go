package notify

import (
	"sync"

	"github.com/google/uuid"

	"github.com/VisoroGroup/Voice-to-text/internal/store"
)

const subscriberBuffer = 16

// Hub fans newly persisted transcriptions out to live subscribers.
// Subscribers attach and detach independently; a slow subscriber drops
// events instead of blocking publishers or its peers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]chan store.TranscriptionRecord
	closed bool
}

// NewHub creates a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[uuid.UUID]chan store.TranscriptionRecord),
	}
}

// Subscribe registers a new listener and returns its handle and channel.
func (h *Hub) Subscribe() (uuid.UUID, <-chan store.TranscriptionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.New()
	ch := make(chan store.TranscriptionRecord, subscriberBuffer)
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel. Unknown handles
// are a no-op.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(ch)
}

// Publish delivers rec to every current subscriber without blocking.
func (h *Hub) Publish(rec store.TranscriptionRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- rec:
		default:
			// Subscriber is not keeping up, drop the event for it.
		}
	}
}

// Close detaches all subscribers and rejects future ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
