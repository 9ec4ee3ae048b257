package server

import (
	"context"
	"sync"
	"time"
)

const (
	RealtimeEventLetterChanged = "letter-change"
	realtimeEventHeartbeat     = "heartbeat"
	realtimeSource             = "letters-api"
	defaultSubscriberBuffer    = 16
)

// RealtimeMessage is one change notification addressed to a single user.
type RealtimeMessage struct {
	UserID    string
	EventType string
	LetterIDs []string
	Timestamp time.Time
}

// RealtimeDispatcher fans change notifications out to every open feed of the
// same user. Slow subscribers miss messages instead of blocking publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]chan RealtimeMessage
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]chan RealtimeMessage),
		bufferSize:  defaultSubscriberBuffer,
		clock:       time.Now,
	}
}

// Subscribe registers a feed for userID until ctx ends or the returned
// cancel function is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		closed := make(chan RealtimeMessage)
		close(closed)
		return closed, func() {}
	}

	stream := make(chan RealtimeMessage, d.bufferSize)
	d.mu.Lock()
	d.nextID++
	subscriberID := d.nextID
	if d.subscribers[userID] == nil {
		d.subscribers[userID] = make(map[int64]chan RealtimeMessage)
	}
	d.subscribers[userID][subscriberID] = stream
	d.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			feeds := d.subscribers[userID]
			delete(feeds, subscriberID)
			if len(feeds) == 0 {
				delete(d.subscribers, userID)
			}
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return stream, cancel
}

// Publish delivers message to the user's subscribers without blocking.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, stream := range d.subscribers[message.UserID] {
		select {
		case stream <- message:
		default:
		}
	}
}

// LettersChanged publishes a letter-change event for the given letters.
func (d *RealtimeDispatcher) LettersChanged(userID string, letterIDs ...string) {
	if len(letterIDs) == 0 {
		return
	}
	d.Publish(RealtimeMessage{
		UserID:    userID,
		EventType: RealtimeEventLetterChanged,
		LetterIDs: letterIDs,
		Timestamp: d.clock().UTC(),
	})
}

func (d *RealtimeDispatcher) subscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}
