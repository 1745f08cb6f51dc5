package server

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	RealtimeEventDocumentChanged = "document-change"
	realtimeEventHeartbeat       = "heartbeat"
	realtimeSourceBackend        = "mediadiary-api"

	defaultRealtimeBuffer = 16
)

// RealtimeMessage announces that documents in one of a user's collections changed.
type RealtimeMessage struct {
	UserID      string
	EventType   string
	Collection  string
	DocumentIDs []string
	Timestamp   time.Time
}

// RealtimeSubscription receives change messages for one user until closed.
type RealtimeSubscription struct {
	userID      string
	collections []string
	events      chan RealtimeMessage
	dropped     atomic.Int64
	closeOnce   sync.Once
	dispatcher  *RealtimeDispatcher
}

// Events yields messages in publish order. The channel closes when the subscription ends.
func (s *RealtimeSubscription) Events() <-chan RealtimeMessage {
	return s.events
}

// Dropped counts messages skipped because the reader fell behind.
func (s *RealtimeSubscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close detaches the subscription. Safe to call more than once.
func (s *RealtimeSubscription) Close() {
	s.closeOnce.Do(func() {
		if s.dispatcher != nil {
			s.dispatcher.detach(s)
		}
		close(s.events)
	})
}

func (s *RealtimeSubscription) wants(collection string) bool {
	return len(s.collections) == 0 || slices.Contains(s.collections, collection)
}

// RealtimeDispatcher fans document changes out to the owning user's open streams.
type RealtimeDispatcher struct {
	mu         sync.Mutex
	feeds      map[string][]*RealtimeSubscription
	bufferSize int
	closed     bool
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		feeds:      make(map[string][]*RealtimeSubscription),
		bufferSize: defaultRealtimeBuffer,
	}
}

// Subscribe opens a stream for userID, optionally limited to the named collections.
// The subscription ends when ctx is done, Close is called, or the dispatcher shuts down.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string, collections ...string) *RealtimeSubscription {
	subscription := &RealtimeSubscription{
		userID:      userID,
		collections: slices.DeleteFunc(slices.Clone(collections), func(name string) bool { return name == "" }),
		events:      make(chan RealtimeMessage, d.bufferSize),
	}

	d.mu.Lock()
	if userID == "" || d.closed {
		d.mu.Unlock()
		subscription.Close()
		return subscription
	}
	subscription.dispatcher = d
	d.feeds[userID] = append(d.feeds[userID], subscription)
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		subscription.Close()
	}()
	return subscription
}

// Publish delivers message to matching subscribers. Readers with a full buffer miss it.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, subscription := range d.feeds[message.UserID] {
		if !subscription.wants(message.Collection) {
			continue
		}
		select {
		case subscription.events <- message:
		default:
			subscription.dropped.Add(1)
		}
	}
}

// Shutdown ends every open subscription and rejects new ones.
func (d *RealtimeDispatcher) Shutdown() {
	d.mu.Lock()
	d.closed = true
	var open []*RealtimeSubscription
	for _, subscriptions := range d.feeds {
		open = append(open, subscriptions...)
	}
	d.mu.Unlock()

	for _, subscription := range open {
		subscription.Close()
	}
}

func (d *RealtimeDispatcher) detach(subscription *RealtimeSubscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	remaining := slices.DeleteFunc(d.feeds[subscription.userID], func(candidate *RealtimeSubscription) bool {
		return candidate == subscription
	})
	if len(remaining) == 0 {
		delete(d.feeds, subscription.userID)
		return
	}
	d.feeds[subscription.userID] = remaining
}

func (d *RealtimeDispatcher) subscriberCount(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.feeds[userID])
}
