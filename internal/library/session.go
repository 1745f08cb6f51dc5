// Package library is the per-user media diary core: an in-memory cache of the user's
// collections, optimistic mutations confirmed against a remote document store,
// incrementally maintained statistics, and the session lifecycle that loads and
// clears it all.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/docstore"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/media"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/validation"
)

const (
	opSessionNew     = "library.session.new"
	opSignIn         = "library.sign_in"
	opReload         = "library.reload"
	opRetryStale     = "library.retry_stale"
	opReconcile      = "library.reconcile"
	opReadSnapshot   = "library.read_snapshot"
	opWriteSnapshot  = "library.write_snapshot"
	opCreate         = "library.create"
	opUpdate         = "library.update"
	opDelete         = "library.delete"
	opUpdateSettings = "library.update_settings"
)

var (
	errMissingStore = errors.New("document store is required")
	// ErrStatsDiverged is returned by VerifyStats when the running sums disagree with a rescan.
	ErrStatsDiverged = errors.New("library: incremental stats diverged from rescan")
	noOpLogger       = zap.NewNop()
	recentFirst      = docstore.Order{Field: "createdAt", Direction: docstore.Descending}
)

// SessionConfig wires a Session to its collaborators. Only Store is required.
type SessionConfig struct {
	Store           docstore.Store
	Offline         OfflineFallback
	Validator       *validation.Validator
	IDProvider      IDProvider
	Clock           func() time.Time
	Logger          *zap.Logger
	SnapshotTimeout time.Duration
}

// Status describes the health of the active session.
type Status struct {
	UserID         string
	SignedIn       bool
	Degraded       bool
	Stale          []Collection
	PendingDeletes int
	Unsynced       int
}

type inflightCreate struct {
	cancelled bool
}

// pendingWrite is a mutation kept in the cache that the store has not confirmed.
type pendingWrite struct {
	create bool
	fields map[string]any
}

// Session owns one user's cache and statistics for the lifetime of a sign-in.
// Every cache and stats access happens under mu; store calls are made without it.
type Session struct {
	store     docstore.Store
	offline   OfflineFallback
	validator *validation.Validator
	ids       IDProvider
	clock     func() time.Time
	logger    *zap.Logger
	notifier  *notifier
	snapshots *snapshotWriter

	mu             sync.Mutex
	userID         string
	generation     uint64
	degraded       bool
	stale          map[Collection]error
	cache          *EntityCache
	stats          *StatsAggregator
	inflight       map[string]*inflightCreate
	unsynced       map[Collection]map[string]*pendingWrite
	pendingDeletes map[Collection]map[string]struct{}
}

// NewSession constructs a signed-out session.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%s: %w", opSessionNew, errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	validator := cfg.Validator
	if validator == nil {
		validator = validation.New()
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewPlaceholderIDProvider()
	}

	session := &Session{
		store:     cfg.Store,
		offline:   cfg.Offline,
		validator: validator,
		ids:       ids,
		clock:     clock,
		logger:    logger,
		notifier:  newNotifier(),
		cache:     NewEntityCache(),
		stats:     NewStatsAggregator(),
	}
	if cfg.Offline != nil {
		session.snapshots = newSnapshotWriter(cfg.Offline, cfg.SnapshotTimeout, logger)
	}
	session.resetLocked()
	return session, nil
}

// Close flushes pending offline snapshots. The session must not be used afterwards.
func (s *Session) Close() {
	if s.snapshots != nil {
		s.snapshots.close()
	}
}

// SignIn loads every collection for userID in parallel. Collections that fail stay
// stale and are reported through *PartialLoadError while the session still starts.
// When no collection can be loaded the session falls back to the offline snapshot
// and is marked degraded.
func (s *Session) SignIn(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return &ValidationError{Reason: "user id is required"}
	}

	s.mu.Lock()
	if s.userID != "" {
		previous := s.userID
		s.resetLocked()
		s.publishFor(previous, ChangeCleared, "")
	}
	s.generation++
	s.userID = userID
	generation := s.generation
	s.mu.Unlock()

	failed := s.loadCollections(ctx, userID, generation, AllCollections)
	if len(failed) == len(AllCollections) {
		return s.startDegraded(ctx, userID, generation, failed)
	}
	return s.finishLoad(opSignIn, userID, generation, failed)
}

// SignOut discards every cached entity and zeroes the statistics.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.userID
	s.resetLocked()
	if previous != "" {
		s.publishFor(previous, ChangeCleared, "")
	}
}

// Reload pushes unconfirmed local changes to the store, then reloads every collection.
// Nothing is replaced when the pending changes cannot be pushed.
func (s *Session) Reload(ctx context.Context) error {
	userID, generation, err := s.active()
	if err != nil {
		return err
	}
	if err := s.reconcilePending(ctx, userID, generation); err != nil {
		return err
	}

	failed := s.loadCollections(ctx, userID, generation, AllCollections)
	if len(failed) == len(AllCollections) {
		s.mu.Lock()
		if s.generation == generation {
			s.degraded = true
			for collection, cause := range failed {
				s.stale[collection] = cause
			}
		}
		s.mu.Unlock()
		s.logWarn(opReload, "store_unreachable", errors.Join(collectErrors(failed)...),
			zap.String("user_id", userID))
		return &PartialLoadError{Failed: failed}
	}
	return s.finishLoad(opReload, userID, generation, failed)
}

// RetryStale reloads only the collections that failed to load earlier.
func (s *Session) RetryStale(ctx context.Context) error {
	userID, generation, err := s.active()
	if err != nil {
		return err
	}
	s.mu.Lock()
	stale := s.staleCollectionsLocked()
	s.mu.Unlock()
	if len(stale) == 0 {
		return nil
	}
	if err := s.reconcilePending(ctx, userID, generation); err != nil {
		return err
	}
	failed := s.loadCollections(ctx, userID, generation, stale)
	return s.finishLoad(opRetryStale, userID, generation, failed)
}

// Status reports the signed-in user and load health.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		UserID:   s.userID,
		SignedIn: s.userID != "",
		Degraded: s.degraded,
		Stale:    s.staleCollectionsLocked(),
	}
	for _, ids := range s.pendingDeletes {
		status.PendingDeletes += len(ids)
	}
	for _, writes := range s.unsynced {
		status.Unsynced += len(writes)
	}
	return status
}

// Subscribe streams change events until ctx ends. Slow readers miss events.
func (s *Session) Subscribe(ctx context.Context) <-chan ChangeEvent {
	return s.notifier.subscribe(ctx)
}

// MediaItems returns the cached media items, most recent first.
func (s *Session) MediaItems() []media.MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMediaItems(s.cache.MediaItems().List())
}

// MediaItem returns one cached media item.
func (s *Session) MediaItem(id string) (media.MediaItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.cache.MediaItems().Get(id)
	return item.Clone(), ok
}

// Reviews returns the cached reviews, most recent first.
func (s *Session) Reviews() []media.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneReviews(s.cache.Reviews().List())
}

// ReviewsFor returns the reviews that reference mediaID.
func (s *Session) ReviewsFor(mediaID string) []media.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []media.Review
	for _, review := range s.cache.Reviews().List() {
		if review.MediaID == mediaID {
			matched = append(matched, review.Clone())
		}
	}
	return matched
}

func (s *Session) Milestones() []media.Milestone {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Milestones().List()
}

// Settings returns the settings document; ok is false when the user has none yet.
func (s *Session) Settings() (media.Settings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Settings()
}

// Stats returns the incrementally maintained statistics.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.Stats()
}

func (s *Session) TopRated(n int) []media.MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TopRated(s.cache.MediaItems().List(), n)
}

func (s *Session) MostTimeSpent(n int) []media.MediaItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MostTimeSpent(s.cache.MediaItems().List(), n)
}

// VerifyStats compares the running sums with a full rescan of the cache.
func (s *Session) VerifyStats() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	expected := NewStatsAggregator()
	expected.Rescan(s.cache.MediaItems().List(), s.cache.Reviews().Len())
	if s.stats.Equal(expected) {
		return nil
	}
	return fmt.Errorf("%w: incremental %+v, rescan %+v", ErrStatsDiverged, s.stats.Stats(), expected.Stats())
}

func (s *Session) loadCollections(ctx context.Context, userID string, generation uint64, collections []Collection) map[Collection]error {
	var (
		group    errgroup.Group
		failedMu sync.Mutex
		failed   = make(map[Collection]error)
	)
	for _, collection := range collections {
		group.Go(func() error {
			if err := s.loadCollection(ctx, userID, generation, collection); err != nil {
				failedMu.Lock()
				failed[collection] = err
				failedMu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return failed
}

func (s *Session) loadCollection(ctx context.Context, userID string, generation uint64, collection Collection) error {
	switch collection {
	case CollectionMediaItems:
		return loadTable(ctx, s, userID, generation, mediaItemKind)
	case CollectionReviews:
		return loadTable(ctx, s, userID, generation, reviewKind)
	case CollectionMilestones:
		return loadTable(ctx, s, userID, generation, milestoneKind)
	case CollectionSettings:
		document, err := s.store.Get(ctx, settingsPath(userID))
		if err != nil {
			return err
		}
		settings, err := decodeSettings(document)
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generation != generation {
			return nil
		}
		s.cache.ReplaceSettings(settings)
		delete(s.stale, CollectionSettings)
		s.publishLocked(ChangeLoaded, CollectionSettings)
		return nil
	default:
		return fmt.Errorf("unknown collection %q", collection)
	}
}

// loadTable installs the collection as soon as it resolves. Stats are rescanned once
// every collection has resolved.
func loadTable[T Record[T]](ctx context.Context, s *Session, userID string, generation uint64, kind entityKind[T]) error {
	order := recentFirst
	documents, err := s.store.List(ctx, docstore.CollectionPath(userID, string(kind.collection)), &order)
	if err != nil {
		return err
	}
	entities, err := decodeDocuments[T](documents)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		return nil
	}
	kind.table(s.cache).ReplaceAll(entities)
	delete(s.stale, kind.collection)
	s.publishLocked(ChangeLoaded, kind.collection)
	return nil
}

func (s *Session) finishLoad(operation, userID string, generation uint64, failed map[Collection]error) error {
	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		return ErrNoSession
	}
	for collection, cause := range failed {
		s.stale[collection] = cause
	}
	s.stats.Rescan(s.cache.MediaItems().List(), s.cache.Reviews().Len())
	if len(s.stale) == 0 {
		s.degraded = false
	}
	s.scheduleSnapshotLocked()
	s.mu.Unlock()

	if len(failed) == 0 {
		return nil
	}
	s.logWarn(operation, "partial_load", errors.Join(collectErrors(failed)...),
		zap.String("user_id", userID),
		zap.Int("failed_collections", len(failed)))
	return &PartialLoadError{Failed: failed}
}

func (s *Session) startDegraded(ctx context.Context, userID string, generation uint64, failed map[Collection]error) error {
	var snapshot *CacheState
	if s.offline != nil {
		state, err := s.offline.ReadSnapshot(ctx, userID)
		if err != nil {
			s.logError(opReadSnapshot, "read_failed", err, zap.String("user_id", userID))
		} else {
			snapshot = state
		}
	}

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		return ErrNoSession
	}
	if snapshot != nil {
		s.cache.Restore(*snapshot)
	}
	s.degraded = true
	for collection, cause := range failed {
		s.stale[collection] = cause
	}
	s.stats.Rescan(s.cache.MediaItems().List(), s.cache.Reviews().Len())
	s.publishLocked(ChangeLoaded, "")
	s.mu.Unlock()

	s.logWarn(opSignIn, "store_unreachable", errors.Join(collectErrors(failed)...),
		zap.String("user_id", userID),
		zap.Bool("offline_snapshot", snapshot != nil))
	return &PartialLoadError{Failed: failed}
}

// reconcilePending retries failed deletes and pushes changes retained while degraded.
func (s *Session) reconcilePending(ctx context.Context, userID string, generation uint64) error {
	type pendingDelete struct {
		collection Collection
		id         string
	}
	type pendingUpdate struct {
		collection Collection
		id         string
		create     bool
		fields     map[string]any
	}

	s.mu.Lock()
	var deletes []pendingDelete
	for collection, ids := range s.pendingDeletes {
		for id := range ids {
			deletes = append(deletes, pendingDelete{collection: collection, id: id})
		}
	}
	var updates []pendingUpdate
	for collection, writes := range s.unsynced {
		for id, write := range writes {
			if !write.create && IsPlaceholderID(id) {
				// Edits to a placeholder ride along with its create confirmation.
				continue
			}
			updates = append(updates, pendingUpdate{collection: collection, id: id, create: write.create, fields: mergeFields(nil, write.fields)})
		}
	}
	s.mu.Unlock()

	for _, pending := range deletes {
		if err := s.store.Delete(ctx, docstore.DocumentPath(userID, string(pending.collection), pending.id)); err != nil {
			return s.reconcileFailed(pending.collection, pending.id, err)
		}
		s.mu.Lock()
		if s.generation == generation {
			s.unflagDeleteLocked(pending.collection, pending.id)
		}
		s.mu.Unlock()
	}

	for _, pending := range updates {
		var err error
		switch {
		case pending.create:
			err = s.reconcileCreate(ctx, userID, generation, pending.collection, pending.id)
		case pending.collection == CollectionSettings:
			err = s.pushFields(ctx, settingsPath(userID), pending.fields, s.store.Set)
		default:
			err = s.pushFields(ctx, docstore.DocumentPath(userID, string(pending.collection), pending.id), pending.fields, s.store.Update)
			if errors.Is(err, docstore.ErrNotFound) {
				err = nil
			}
		}
		if err != nil {
			return s.reconcileFailed(pending.collection, pending.id, err)
		}
		if !pending.create {
			s.mu.Lock()
			if s.generation == generation {
				s.takeUnsyncedLocked(pending.collection, pending.id)
			}
			s.mu.Unlock()
		}
	}
	return nil
}

func (s *Session) reconcileFailed(collection Collection, id string, err error) error {
	s.logWarn(opReconcile, "push_failed", err,
		zap.String("collection", string(collection)),
		zap.String("id", id))
	return &PersistenceError{Operation: "reconcile", Collection: collection, ID: id, Retained: true, Err: err}
}

func (s *Session) reconcileCreate(ctx context.Context, userID string, generation uint64, collection Collection, id string) error {
	switch collection {
	case CollectionMediaItems:
		return reconcileCreate(ctx, s, userID, generation, mediaItemKind, id)
	case CollectionReviews:
		return reconcileCreate(ctx, s, userID, generation, reviewKind, id)
	case CollectionMilestones:
		return reconcileCreate(ctx, s, userID, generation, milestoneKind, id)
	default:
		return fmt.Errorf("unknown collection %q", collection)
	}
}

// reconcileCreate stores an entity whose create failed while degraded and gives it
// the store-assigned id.
func reconcileCreate[T Record[T]](ctx context.Context, s *Session, userID string, generation uint64, kind entityKind[T], placeholder string) error {
	s.mu.Lock()
	current, ok := kind.table(s.cache).Get(placeholder)
	if !ok {
		s.takeUnsyncedLocked(kind.collection, placeholder)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	payload, err := encodeEntity(current)
	if err != nil {
		return err
	}
	document, err := s.store.Add(ctx, docstore.CollectionPath(userID, string(kind.collection)), payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		return nil
	}
	s.takeUnsyncedLocked(kind.collection, placeholder)
	table := kind.table(s.cache)
	latest, ok := table.Get(placeholder)
	if !ok {
		return nil
	}
	if table.Rekey(placeholder, document.ID) {
		table.Put(latest.WithID(document.ID).WithTimestamps(document.CreatedAt, document.UpdatedAt))
	} else {
		kind.account(s.stats, latest, Remove)
	}
	s.publishLocked(ChangeRekeyed, kind.collection, placeholder, document.ID)
	return nil
}

func (s *Session) pushFields(ctx context.Context, path docstore.Path, fields map[string]any, write func(context.Context, docstore.Path, json.RawMessage) error) error {
	payload, err := encodeFields(fields)
	if err != nil {
		return err
	}
	return write(ctx, path, payload)
}

func (s *Session) active() (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == "" {
		return "", 0, ErrNoSession
	}
	return s.userID, s.generation, nil
}

func (s *Session) resetLocked() {
	s.generation++
	s.userID = ""
	s.degraded = false
	s.stale = make(map[Collection]error)
	s.cache.Clear()
	s.stats.Reset()
	s.inflight = make(map[string]*inflightCreate)
	s.unsynced = make(map[Collection]map[string]*pendingWrite)
	s.pendingDeletes = make(map[Collection]map[string]struct{})
}

func (s *Session) staleCollectionsLocked() []Collection {
	stale := make([]Collection, 0, len(s.stale))
	for _, collection := range AllCollections {
		if _, ok := s.stale[collection]; ok {
			stale = append(stale, collection)
		}
	}
	return stale
}

func (s *Session) markUnsyncedCreateLocked(collection Collection, id string) {
	s.pendingWriteLocked(collection, id).create = true
}

func (s *Session) addUnsyncedFieldsLocked(collection Collection, id string, fields map[string]any) {
	write := s.pendingWriteLocked(collection, id)
	write.fields = mergeFields(write.fields, fields)
}

func (s *Session) pendingWriteLocked(collection Collection, id string) *pendingWrite {
	writes, ok := s.unsynced[collection]
	if !ok {
		writes = make(map[string]*pendingWrite)
		s.unsynced[collection] = writes
	}
	write, ok := writes[id]
	if !ok {
		write = &pendingWrite{}
		writes[id] = write
	}
	return write
}

// takeUnsyncedLocked removes and returns the fields recorded for id.
func (s *Session) takeUnsyncedLocked(collection Collection, id string) map[string]any {
	writes := s.unsynced[collection]
	write, ok := writes[id]
	if !ok {
		return nil
	}
	delete(writes, id)
	if len(writes) == 0 {
		delete(s.unsynced, collection)
	}
	return write.fields
}

func (s *Session) flagDeleteLocked(collection Collection, id string) {
	ids, ok := s.pendingDeletes[collection]
	if !ok {
		ids = make(map[string]struct{})
		s.pendingDeletes[collection] = ids
	}
	ids[id] = struct{}{}
}

func (s *Session) unflagDeleteLocked(collection Collection, id string) {
	ids := s.pendingDeletes[collection]
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.pendingDeletes, collection)
	}
}

func (s *Session) scheduleSnapshotLocked() {
	if s.snapshots == nil || s.userID == "" {
		return
	}
	state := s.cache.Snapshot()
	state.SavedAt = s.now()
	s.snapshots.enqueue(s.userID, state)
}

func (s *Session) publishLocked(kind ChangeKind, collection Collection, ids ...string) {
	s.publishFor(s.userID, kind, collection, ids...)
}

func (s *Session) publishFor(userID string, kind ChangeKind, collection Collection, ids ...string) {
	s.notifier.publish(ChangeEvent{
		UserID:     userID,
		Kind:       kind,
		Collection: collection,
		IDs:        slices.Clone(ids),
		Timestamp:  s.now(),
	})
}

func (s *Session) now() time.Time {
	return s.clock().UTC()
}

func (s *Session) logError(operation, reason string, err error, fields ...zap.Field) {
	s.logger.Error("library session error", logFields(operation, reason, err, fields)...)
}

func (s *Session) logWarn(operation, reason string, err error, fields ...zap.Field) {
	s.logger.Warn("library session degraded", logFields(operation, reason, err, fields)...)
}

func logFields(operation, reason string, err error, fields []zap.Field) []zap.Field {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	return append(attrs, fields...)
}

func settingsPath(userID string) docstore.Path {
	return docstore.DocumentPath(userID, string(CollectionSettings), settingsDocumentID)
}

func collectErrors(failed map[Collection]error) []error {
	causes := make([]error, 0, len(failed))
	for _, collection := range AllCollections {
		if err, ok := failed[collection]; ok {
			causes = append(causes, err)
		}
	}
	return causes
}
