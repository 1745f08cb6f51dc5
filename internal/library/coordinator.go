package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/docstore"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/media"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/validation"
)

// entityKind binds a collection to its cache table and its contribution to the stats.
type entityKind[T Record[T]] struct {
	collection Collection
	table      func(*EntityCache) *Table[T]
	account    func(*StatsAggregator, T, Sign)
}

var (
	mediaItemKind = entityKind[media.MediaItem]{
		collection: CollectionMediaItems,
		table:      (*EntityCache).MediaItems,
		account: func(stats *StatsAggregator, item media.MediaItem, sign Sign) {
			stats.ApplyDelta(item, sign)
		},
	}
	reviewKind = entityKind[media.Review]{
		collection: CollectionReviews,
		table:      (*EntityCache).Reviews,
		account: func(stats *StatsAggregator, _ media.Review, sign Sign) {
			stats.ApplyReviewDelta(sign)
		},
	}
	milestoneKind = entityKind[media.Milestone]{
		collection: CollectionMilestones,
		table:      (*EntityCache).Milestones,
		account:    func(*StatsAggregator, media.Milestone, Sign) {},
	}
)

// AddMediaItem inserts item optimistically and confirms it with the store.
// The returned item carries the store-assigned id.
func (s *Session) AddMediaItem(ctx context.Context, item media.MediaItem) (media.MediaItem, error) {
	return createEntity(ctx, s, mediaItemKind, item.Normalize())
}

// UpdateMediaItem merges patch into the cached item and confirms it with the store.
// Failed updates are rolled back unless the session is degraded.
func (s *Session) UpdateMediaItem(ctx context.Context, id string, patch media.MediaItemPatch) (media.MediaItem, error) {
	if patch.IsEmpty() {
		return media.MediaItem{}, emptyPatch(CollectionMediaItems)
	}
	return updateEntity(ctx, s, mediaItemKind, id, patch.Fields(), patch.Apply)
}

// DeleteMediaItem removes the item from the cache and then from the store. A failed
// remote delete is not rolled back; the id is retried on the next Reload.
func (s *Session) DeleteMediaItem(ctx context.Context, id string) error {
	return deleteEntity(ctx, s, mediaItemKind, id)
}

func (s *Session) AddReview(ctx context.Context, review media.Review) (media.Review, error) {
	return createEntity(ctx, s, reviewKind, review.Normalize())
}

func (s *Session) UpdateReview(ctx context.Context, id string, patch media.ReviewPatch) (media.Review, error) {
	if patch.IsEmpty() {
		return media.Review{}, emptyPatch(CollectionReviews)
	}
	return updateEntity(ctx, s, reviewKind, id, patch.Fields(), patch.Apply)
}

func (s *Session) DeleteReview(ctx context.Context, id string) error {
	return deleteEntity(ctx, s, reviewKind, id)
}

func (s *Session) AddMilestone(ctx context.Context, milestone media.Milestone) (media.Milestone, error) {
	return createEntity(ctx, s, milestoneKind, milestone.Normalize())
}

func (s *Session) UpdateMilestone(ctx context.Context, id string, patch media.MilestonePatch) (media.Milestone, error) {
	if patch.IsEmpty() {
		return media.Milestone{}, emptyPatch(CollectionMilestones)
	}
	return updateEntity(ctx, s, milestoneKind, id, patch.Fields(), patch.Apply)
}

func (s *Session) DeleteMilestone(ctx context.Context, id string) error {
	return deleteEntity(ctx, s, milestoneKind, id)
}

// UpdateSettings merges patch into the settings document, creating it when absent.
func (s *Session) UpdateSettings(ctx context.Context, patch media.SettingsPatch) (media.Settings, error) {
	if patch.IsEmpty() {
		return media.Settings{}, emptyPatch(CollectionSettings)
	}
	fields := patch.Fields()
	payload, err := encodeFields(fields)
	if err != nil {
		return media.Settings{}, &ValidationError{Collection: CollectionSettings, Reason: err.Error()}
	}

	s.mu.Lock()
	userID, generation := s.userID, s.generation
	if userID == "" {
		s.mu.Unlock()
		return media.Settings{}, ErrNoSession
	}
	base, _ := s.cache.Settings()
	if err := s.validate(CollectionSettings, patch.Apply(base)); err != nil {
		s.mu.Unlock()
		return media.Settings{}, err
	}
	previous, merged := s.cache.PatchSettings(patch, s.now())
	s.publishLocked(ChangeUpdated, CollectionSettings, settingsDocumentID)
	s.mu.Unlock()

	storeErr := s.store.Set(ctx, settingsPath(userID), payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		if storeErr != nil {
			return media.Settings{}, &PersistenceError{Operation: "update", Collection: CollectionSettings, ID: settingsDocumentID, Err: storeErr}
		}
		return merged, nil
	}
	if storeErr != nil {
		if s.degraded {
			s.addUnsyncedFieldsLocked(CollectionSettings, settingsDocumentID, fields)
			s.scheduleSnapshotLocked()
			s.logWarn(opUpdateSettings, "retained_while_degraded", storeErr, zap.String("user_id", userID))
			return merged, &PersistenceError{Operation: "update", Collection: CollectionSettings, ID: settingsDocumentID, Retained: true, Err: storeErr}
		}
		s.cache.ReplaceSettings(previous)
		s.publishLocked(ChangeRolledBack, CollectionSettings, settingsDocumentID)
		s.logWarn(opUpdateSettings, "rolled_back", storeErr, zap.String("user_id", userID))
		return media.Settings{}, &PersistenceError{Operation: "update", Collection: CollectionSettings, ID: settingsDocumentID, Err: storeErr}
	}
	s.scheduleSnapshotLocked()
	return merged, nil
}

func createEntity[T Record[T]](ctx context.Context, s *Session, kind entityKind[T], entity T) (T, error) {
	var zero T
	if err := s.validate(kind.collection, entity); err != nil {
		return zero, err
	}
	payload, err := encodeEntity(entity)
	if err != nil {
		return zero, &ValidationError{Collection: kind.collection, Reason: err.Error()}
	}
	placeholder, err := s.ids.NewID()
	if err != nil {
		s.logError(opCreate, "placeholder_id_failed", err, zap.String("collection", string(kind.collection)))
		return zero, fmt.Errorf("%s: %w", opCreate, err)
	}

	s.mu.Lock()
	userID, generation := s.userID, s.generation
	if userID == "" {
		s.mu.Unlock()
		return zero, ErrNoSession
	}
	table := kind.table(s.cache)
	now := s.now()
	optimistic := entity.WithID(placeholder).WithTimestamps(now, now)
	if err := table.Insert(optimistic); err != nil {
		s.mu.Unlock()
		return zero, fmt.Errorf("%s: %w", opCreate, err)
	}
	kind.account(s.stats, optimistic, Add)
	s.inflight[placeholder] = &inflightCreate{}
	s.publishLocked(ChangeCreated, kind.collection, placeholder)
	s.mu.Unlock()

	document, storeErr := s.store.Add(ctx, docstore.CollectionPath(userID, string(kind.collection)), payload)

	s.mu.Lock()
	create := s.inflight[placeholder]
	delete(s.inflight, placeholder)
	attrs := []zap.Field{
		zap.String("collection", string(kind.collection)),
		zap.String("placeholder_id", placeholder),
	}

	if s.generation != generation {
		s.mu.Unlock()
		if storeErr != nil {
			return zero, &PersistenceError{Operation: "create", Collection: kind.collection, ID: placeholder, Err: storeErr}
		}
		return optimistic.WithID(document.ID).WithTimestamps(document.CreatedAt, document.UpdatedAt), nil
	}

	if storeErr != nil {
		if s.degraded {
			current, ok := table.Get(placeholder)
			if ok {
				s.markUnsyncedCreateLocked(kind.collection, placeholder)
				s.scheduleSnapshotLocked()
			}
			s.mu.Unlock()
			s.logWarn(opCreate, "retained_while_degraded", storeErr, attrs...)
			return current, &PersistenceError{Operation: "create", Collection: kind.collection, ID: placeholder, Retained: ok, Err: storeErr}
		}
		if removed, ok := table.Remove(placeholder); ok {
			kind.account(s.stats, removed, Remove)
			s.publishLocked(ChangeRolledBack, kind.collection, placeholder)
		}
		s.takeUnsyncedLocked(kind.collection, placeholder)
		s.mu.Unlock()
		s.logWarn(opCreate, "rolled_back", storeErr, attrs...)
		return zero, &PersistenceError{Operation: "create", Collection: kind.collection, ID: placeholder, Err: storeErr}
	}

	stored := optimistic.WithID(document.ID).WithTimestamps(document.CreatedAt, document.UpdatedAt)
	followUp := s.takeUnsyncedLocked(kind.collection, placeholder)
	current, present := table.Get(placeholder)
	switch {
	case create != nil && create.cancelled:
		s.mu.Unlock()
		s.compensateCreate(ctx, userID, generation, kind.collection, document.ID)
		return stored, nil
	case present:
		stored = current.WithID(document.ID).WithTimestamps(document.CreatedAt, document.UpdatedAt)
		if table.Rekey(placeholder, document.ID) {
			table.Put(stored)
		} else {
			kind.account(s.stats, current, Remove)
		}
		s.publishLocked(ChangeRekeyed, kind.collection, placeholder, document.ID)
	default:
		// A reload replaced the collection while the create was in flight.
		if existing, exists := table.Get(document.ID); exists {
			if merged, err := applyFields(existing, followUp); err == nil && len(followUp) > 0 {
				table.Put(merged)
				kind.account(s.stats, existing, Remove)
				kind.account(s.stats, merged, Add)
				s.publishLocked(ChangeUpdated, kind.collection, document.ID)
				stored = merged
			} else {
				stored = existing
			}
			break
		}
		if merged, err := applyFields(stored, followUp); err == nil {
			stored = merged
		} else {
			s.logError(opCreate, "follow_up_merge_failed", err, attrs...)
		}
		if table.Insert(stored) == nil {
			kind.account(s.stats, stored, Add)
			s.publishLocked(ChangeCreated, kind.collection, document.ID)
		}
	}
	s.scheduleSnapshotLocked()
	s.mu.Unlock()

	if len(followUp) > 0 {
		s.pushFollowUp(ctx, userID, generation, kind.collection, document.ID, followUp)
	}
	return stored, nil
}

// compensateCreate removes a document whose placeholder was deleted while the create
// was in flight.
func (s *Session) compensateCreate(ctx context.Context, userID string, generation uint64, collection Collection, id string) {
	err := s.store.Delete(ctx, docstore.DocumentPath(userID, string(collection), id))
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.generation == generation {
		s.flagDeleteLocked(collection, id)
	}
	s.mu.Unlock()
	s.logWarn(opCreate, "compensating_delete_failed", err,
		zap.String("collection", string(collection)),
		zap.String("id", id))
}

// pushFollowUp sends edits made to a placeholder while its create was in flight.
func (s *Session) pushFollowUp(ctx context.Context, userID string, generation uint64, collection Collection, id string, fields map[string]any) {
	err := s.pushFields(ctx, docstore.DocumentPath(userID, string(collection), id), fields, s.store.Update)
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.generation == generation {
		s.addUnsyncedFieldsLocked(collection, id, fields)
	}
	s.mu.Unlock()
	s.logWarn(opUpdate, "follow_up_failed", err,
		zap.String("collection", string(collection)),
		zap.String("id", id))
}

func updateEntity[T Record[T]](ctx context.Context, s *Session, kind entityKind[T], id string, fields map[string]any, merge func(T) T) (T, error) {
	var zero T
	payload, err := encodeFields(fields)
	if err != nil {
		return zero, &ValidationError{Collection: kind.collection, Reason: err.Error()}
	}

	s.mu.Lock()
	userID, generation := s.userID, s.generation
	if userID == "" {
		s.mu.Unlock()
		return zero, ErrNoSession
	}
	table := kind.table(s.cache)
	current, ok := table.Get(id)
	if !ok {
		s.mu.Unlock()
		return zero, &NotFoundError{Collection: kind.collection, ID: id}
	}
	candidate := merge(current)
	if err := s.validate(kind.collection, candidate); err != nil {
		s.mu.Unlock()
		return zero, err
	}
	before, after, err := table.Patch(id, func(T) T { return candidate }, s.now())
	if err != nil {
		s.mu.Unlock()
		return zero, err
	}
	kind.account(s.stats, before, Remove)
	kind.account(s.stats, after, Add)
	s.publishLocked(ChangeUpdated, kind.collection, id)

	if IsPlaceholderID(id) {
		// The create confirmation, or the next reload, carries these fields.
		s.addUnsyncedFieldsLocked(kind.collection, id, fields)
		s.scheduleSnapshotLocked()
		s.mu.Unlock()
		return after, nil
	}
	s.mu.Unlock()

	storeErr := s.store.Update(ctx, docstore.DocumentPath(userID, string(kind.collection), id), payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		if storeErr != nil {
			return zero, &PersistenceError{Operation: "update", Collection: kind.collection, ID: id, Err: storeErr}
		}
		return after, nil
	}
	if storeErr != nil {
		attrs := []zap.Field{
			zap.String("collection", string(kind.collection)),
			zap.String("id", id),
		}
		if s.degraded {
			s.addUnsyncedFieldsLocked(kind.collection, id, fields)
			s.scheduleSnapshotLocked()
			s.logWarn(opUpdate, "retained_while_degraded", storeErr, attrs...)
			return after, &PersistenceError{Operation: "update", Collection: kind.collection, ID: id, Retained: true, Err: storeErr}
		}
		if latest, ok := table.Get(id); ok {
			table.Put(before)
			kind.account(s.stats, latest, Remove)
			kind.account(s.stats, before, Add)
			s.publishLocked(ChangeRolledBack, kind.collection, id)
		}
		s.logWarn(opUpdate, "rolled_back", storeErr, attrs...)
		return zero, &PersistenceError{Operation: "update", Collection: kind.collection, ID: id, Err: storeErr}
	}
	s.scheduleSnapshotLocked()
	return after, nil
}

func deleteEntity[T Record[T]](ctx context.Context, s *Session, kind entityKind[T], id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &ValidationError{Collection: kind.collection, Reason: "id is required"}
	}

	s.mu.Lock()
	userID, generation := s.userID, s.generation
	if userID == "" {
		s.mu.Unlock()
		return ErrNoSession
	}
	if removed, ok := kind.table(s.cache).Remove(id); ok {
		kind.account(s.stats, removed, Remove)
		s.publishLocked(ChangeDeleted, kind.collection, id)
	}
	s.takeUnsyncedLocked(kind.collection, id)
	if create, ok := s.inflight[id]; ok {
		create.cancelled = true
	}
	s.scheduleSnapshotLocked()
	s.mu.Unlock()

	if IsPlaceholderID(id) {
		return nil
	}

	storeErr := s.store.Delete(ctx, docstore.DocumentPath(userID, string(kind.collection), id))

	s.mu.Lock()
	if s.generation == generation {
		if storeErr != nil {
			s.flagDeleteLocked(kind.collection, id)
		} else {
			s.unflagDeleteLocked(kind.collection, id)
		}
	}
	s.mu.Unlock()

	if storeErr != nil {
		s.logWarn(opDelete, "flagged_for_reconcile", storeErr,
			zap.String("collection", string(kind.collection)),
			zap.String("id", id))
		return &PersistenceError{Operation: "delete", Collection: kind.collection, ID: id, Retained: true, Err: storeErr}
	}
	return nil
}

func (s *Session) validate(collection Collection, entity any) error {
	err := s.validator.Validate(entity)
	if err == nil {
		return nil
	}
	var fieldErr *validation.Error
	if errors.As(err, &fieldErr) {
		return &ValidationError{Collection: collection, Reason: "invalid fields", Fields: fieldErr.Fields}
	}
	return &ValidationError{Collection: collection, Reason: err.Error()}
}

func emptyPatch(collection Collection) error {
	return &ValidationError{Collection: collection, Reason: "patch changes no fields"}
}
