package delivery

import (
	"context"
	"sync"

	"github.com/ErinHernandez/TopDog-sub011/internal/draft"
)

const defaultLiveBufferSize = 16

// LiveHub fans native alerts out to the open sessions of each user.
type LiveHub struct {
	mu          sync.RWMutex
	subscribers map[draft.UserID]map[int64]*liveSubscriber
	nextID      int64
	bufferSize  int
}

type liveSubscriber struct {
	id     int64
	stream chan Message
}

// NewLiveHub constructs an empty hub.
func NewLiveHub() *LiveHub {
	return &LiveHub{
		subscribers: make(map[draft.UserID]map[int64]*liveSubscriber),
		bufferSize:  defaultLiveBufferSize,
	}
}

// Subscribe opens a session for userID. The session ends when ctx is done or cleanup is called.
func (h *LiveHub) Subscribe(ctx context.Context, userID draft.UserID) (<-chan Message, func()) {
	if userID == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	subscriber := &liveSubscriber{
		id:     h.nextSequence(),
		stream: make(chan Message, h.bufferSize),
	}
	h.registerSubscriber(userID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			h.unregisterSubscriber(userID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Reachable reports whether userID has at least one open session.
func (h *LiveHub) Reachable(userID draft.UserID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID]) > 0
}

// Publish hands message to every session of its recipient and returns how many accepted it.
// Sessions with a full buffer are skipped.
func (h *LiveHub) Publish(message Message) int {
	if message.RecipientID == "" {
		return 0
	}
	h.mu.RLock()
	subscribers := h.subscribers[message.RecipientID]
	if len(subscribers) == 0 {
		h.mu.RUnlock()
		return 0
	}
	copies := make([]*liveSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	h.mu.RUnlock()

	accepted := 0
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
			accepted++
		default:
		}
	}
	return accepted
}

func (h *LiveHub) nextSequence() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID
}

func (h *LiveHub) registerSubscriber(userID draft.UserID, subscriber *liveSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[userID]; !ok {
		h.subscribers[userID] = make(map[int64]*liveSubscriber)
	}
	h.subscribers[userID][subscriber.id] = subscriber
}

func (h *LiveHub) unregisterSubscriber(userID draft.UserID, subscriberID int64) {
	h.mu.Lock()
	subscribers := h.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(h.subscribers, userID)
		}
	}
	h.mu.Unlock()
}
