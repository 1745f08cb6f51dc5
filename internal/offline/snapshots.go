// Package offline keeps the last known cache snapshot per user in a local badger
// database so a session can start when the document store is unreachable.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/library"
)

const (
	snapshotPrefix       = "snapshot:"
	currentFormatVersion = 1
)

var (
	// ErrIncompatibleSnapshot is returned for snapshots written by an unknown format version.
	ErrIncompatibleSnapshot = errors.New("offline: incompatible snapshot format")
	errMissingUserID        = errors.New("offline: user id is required")
	errMissingPath          = errors.New("offline: snapshot path is required")
)

// Config selects where snapshots live. InMemory is intended for tests.
type Config struct {
	Path     string
	InMemory bool
	Logger   *zap.Logger
}

// Store implements library.OfflineFallback on badger.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

type envelope struct {
	Version int                `json:"version"`
	State   library.CacheState `json:"state"`
}

// Open opens or creates the snapshot database.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			return nil, errMissingPath
		}
		opts = badger.DefaultOptions(path)
		opts.SyncWrites = true
		opts.CompactL0OnClose = true
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open offline snapshots: %w", err)
	}
	logger.Debug("offline snapshot store opened", zap.String("path", cfg.Path), zap.Bool("in_memory", cfg.InMemory))
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReadSnapshot returns the stored snapshot for userID, or nil when none was written.
func (s *Store) ReadSnapshot(ctx context.Context, userID string) (*library.CacheState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := snapshotKey(userID)
	if err != nil {
		return nil, err
	}

	var stored envelope
	found := false
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read offline snapshot: %w", err)
	}
	if !found {
		return nil, nil
	}
	if stored.Version != currentFormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrIncompatibleSnapshot, stored.Version)
	}
	return &stored.State, nil
}

// WriteSnapshot replaces the stored snapshot for userID.
func (s *Store) WriteSnapshot(ctx context.Context, userID string, state library.CacheState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := snapshotKey(userID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope{Version: currentFormatVersion, State: state})
	if err != nil {
		return fmt.Errorf("marshal offline snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// DeleteSnapshot forgets userID's snapshot. Deleting a missing snapshot succeeds.
func (s *Store) DeleteSnapshot(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := snapshotKey(userID)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Users lists the user ids that have a stored snapshot.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var users []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(snapshotPrefix)
		iterator := txn.NewIterator(opts)
		defer iterator.Close()
		for iterator.Rewind(); iterator.Valid(); iterator.Next() {
			users = append(users, strings.TrimPrefix(string(iterator.Item().Key()), snapshotPrefix))
		}
		return nil
	})
	return users, err
}

func snapshotKey(userID string) ([]byte, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errMissingUserID
	}
	return []byte(snapshotPrefix + userID), nil
}

var _ library.OfflineFallback = (*Store)(nil)
