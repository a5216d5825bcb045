package memory

import (
	"context"
	"sync"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/google/uuid"
)

// Hub fans lifecycle events out to in-process subscribers of a user.
// It implements app.EventPublisher.
type Hub struct {
	mu          sync.Mutex
	subscribers map[uuid.UUID]map[chan domain.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[uuid.UUID]map[chan domain.Event]struct{})}
}

// Publish never blocks: a subscriber whose buffer is full loses its oldest event.
func (h *Hub) Publish(_ context.Context, evt domain.Event) error {
	if evt.UserID == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[*evt.UserID] {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- evt
		}
	}
	return nil
}

// Subscribe returns a channel of events for userID.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(_ context.Context, userID uuid.UUID) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, 8)

	h.mu.Lock()
	subs, ok := h.subscribers[userID]
	if !ok {
		subs = make(map[chan domain.Event]struct{})
		h.subscribers[userID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[userID]
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.subscribers, userID)
		}
	}
	return ch, cancel, nil
}

// Online reports whether userID has an open subscription.
func (h *Hub) Online(_ context.Context, userID uuid.UUID) (bool, error) {
	return h.SubscriberCount(userID) > 0, nil
}

// SubscriberCount reports how many subscribers userID has.
func (h *Hub) SubscriberCount(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[userID])
}
