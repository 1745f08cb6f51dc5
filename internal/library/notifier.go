package library

import (
	"context"
	"sync"
	"time"
)

// ChangeKind describes what happened to the cache.
type ChangeKind string

const (
	ChangeLoaded     ChangeKind = "loaded"
	ChangeCreated    ChangeKind = "created"
	ChangeUpdated    ChangeKind = "updated"
	ChangeDeleted    ChangeKind = "deleted"
	ChangeRekeyed    ChangeKind = "rekeyed"
	ChangeRolledBack ChangeKind = "rolled-back"
	ChangeCleared    ChangeKind = "cleared"
)

const defaultSubscriberBuffer = 16

// ChangeEvent tells observers to re-read part of the cache. IDs is empty for
// whole-collection events. Rekeyed events carry the placeholder id then the stored id.
type ChangeEvent struct {
	UserID     string
	Kind       ChangeKind
	Collection Collection
	IDs        []string
	Timestamp  time.Time
}

type notifier struct {
	mu          sync.RWMutex
	subscribers map[int64]chan ChangeEvent
	nextID      int64
	bufferSize  int
}

func newNotifier() *notifier {
	return &notifier{
		subscribers: make(map[int64]chan ChangeEvent),
		bufferSize:  defaultSubscriberBuffer,
	}
}

// subscribe registers a buffered stream that is closed once ctx ends.
func (n *notifier) subscribe(ctx context.Context) <-chan ChangeEvent {
	stream := make(chan ChangeEvent, n.bufferSize)
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subscribers[id] = stream
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		if _, ok := n.subscribers[id]; ok {
			delete(n.subscribers, id)
			close(stream)
		}
		n.mu.Unlock()
	}()
	return stream
}

// publish never blocks: a subscriber whose buffer is full misses the event.
func (n *notifier) publish(event ChangeEvent) {
	if event.Kind == "" {
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, stream := range n.subscribers {
		select {
		case stream <- event:
		default:
		}
	}
}

func (n *notifier) subscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers)
}
