package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SubscriberID string

// DocumentChanged is published after a ledger document has been persisted.
type DocumentChanged struct {
	Name    string    `json:"name"`
	Version uint64    `json:"version"`
	At      time.Time `json:"at"`
}

type subscriber struct {
	id SubscriberID
	ch chan DocumentChanged
}

// Hub fans document changes out to live clients.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[SubscriberID]*subscriber
	version     uint64
	buffer      int
	logger      *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[SubscriberID]*subscriber),
		buffer:      16,
		logger:      logger,
	}
}

func (h *Hub) Subscribe() (SubscriberID, <-chan DocumentChanged) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := SubscriberID(uuid.Must(uuid.NewV7()).String())
	sub := &subscriber{id: id, ch: make(chan DocumentChanged, h.buffer)}
	h.subscribers[id] = sub

	h.logger.Debug("Client subscribed to changes",
		zap.String("subscriber_id", string(id)),
		zap.Int("total_subscribers", len(h.subscribers)),
	)
	return id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(id SubscriberID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[id]
	if !ok {
		return false
	}
	delete(h.subscribers, id)
	close(sub.ch)

	h.logger.Debug("Client unsubscribed from changes",
		zap.String("subscriber_id", string(id)),
		zap.Int("remaining_subscribers", len(h.subscribers)),
	)
	return true
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
func (h *Hub) Publish(name string) DocumentChanged {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.version++
	event := DocumentChanged{Name: name, Version: h.version, At: time.Now().UTC()}

	for id, sub := range h.subscribers {
		select {
		case sub.ch <- event:
		default:
			h.logger.Warn("Subscriber channel full",
				zap.String("subscriber_id", string(id)),
				zap.String("document", name),
			)
		}
	}
	return event
}

// Close drops every subscriber, which ends their streams.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		close(sub.ch)
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
