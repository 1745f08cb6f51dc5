package library

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OfflineFallback is durable local storage consulted when the remote store is
// unreachable at sign-in.
type OfflineFallback interface {
	// ReadSnapshot returns the last snapshot for userID, or nil when none exists.
	ReadSnapshot(ctx context.Context, userID string) (*CacheState, error)
	WriteSnapshot(ctx context.Context, userID string, state CacheState) error
}

const defaultSnapshotTimeout = 5 * time.Second

// snapshotWriter persists cache snapshots in the background. Only the newest pending
// snapshot per user is written; enqueue never blocks on storage.
type snapshotWriter struct {
	fallback OfflineFallback
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]CacheState
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func newSnapshotWriter(fallback OfflineFallback, timeout time.Duration, logger *zap.Logger) *snapshotWriter {
	if timeout <= 0 {
		timeout = defaultSnapshotTimeout
	}
	writer := &snapshotWriter{
		fallback: fallback,
		timeout:  timeout,
		logger:   logger,
		pending:  make(map[string]CacheState),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go writer.run()
	return writer
}

func (w *snapshotWriter) enqueue(userID string, state CacheState) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending[userID] = state
	select {
	case w.wake <- struct{}{}:
	default:
	}
	w.mu.Unlock()
}

func (w *snapshotWriter) run() {
	defer close(w.done)
	for range w.wake {
		w.writePending()
	}
}

func (w *snapshotWriter) writePending() {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]CacheState)
	w.mu.Unlock()

	for userID, state := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.fallback.WriteSnapshot(ctx, userID, state)
		cancel()
		if err != nil {
			w.logger.Debug("offline snapshot write failed",
				zap.String("operation", opWriteSnapshot),
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}
}

// close writes whatever is still pending and stops the background goroutine.
func (w *snapshotWriter) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.wake)
	w.mu.Unlock()

	<-w.done
	w.writePending()
}
