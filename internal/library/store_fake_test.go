package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/docstore"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/media"
)

var errInjected = errors.New("injected store failure")

type storeCall struct {
	op   string
	path string
}

// fakeStore is an in-memory docstore.Store with failure injection and call recording.
type fakeStore struct {
	mu      sync.Mutex
	docs    map[string]map[string]docstore.Document
	order   map[string][]string
	nextID  int
	now     time.Time
	calls   []storeCall
	failFn  func(op string, path docstore.Path) error
	onAdd   func()
	offline bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:  make(map[string]map[string]docstore.Document),
		order: make(map[string][]string),
		now:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) failWith(fn func(op string, path docstore.Path) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFn = fn
}

func (f *fakeStore) setOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

func (f *fakeStore) check(op string, path docstore.Path) error {
	f.calls = append(f.calls, storeCall{op: op, path: path.String()})
	if f.offline {
		return fmt.Errorf("%w: connection refused", docstore.ErrUnavailable)
	}
	if f.failFn != nil {
		return f.failFn(op, path)
	}
	return nil
}

func (f *fakeStore) tick() time.Time {
	f.now = f.now.Add(time.Second)
	return f.now
}

func (f *fakeStore) Add(ctx context.Context, collection docstore.Path, data json.RawMessage) (docstore.Document, error) {
	f.mu.Lock()
	hook := f.onAdd
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("add", collection); err != nil {
		return docstore.Document{}, err
	}
	f.nextID++
	at := f.tick()
	document := docstore.Document{
		ID:        fmt.Sprintf("doc-%d", f.nextID),
		Data:      slices.Clone(data),
		CreatedAt: at,
		UpdatedAt: at,
	}
	f.put(collection.String(), document)
	return document, nil
}

func (f *fakeStore) Get(ctx context.Context, document docstore.Path) (*docstore.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("get", document); err != nil {
		return nil, err
	}
	stored, ok := f.docs[document.CollectionPath().String()][document.DocumentID]
	if !ok {
		return nil, nil
	}
	return &stored, nil
}

func (f *fakeStore) Update(ctx context.Context, document docstore.Path, partial json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("update", document); err != nil {
		return err
	}
	collection := document.CollectionPath().String()
	stored, ok := f.docs[collection][document.DocumentID]
	if !ok {
		return docstore.ErrNotFound
	}
	merged, err := mergeJSON(stored.Data, partial)
	if err != nil {
		return err
	}
	stored.Data = merged
	stored.UpdatedAt = f.tick()
	f.docs[collection][document.DocumentID] = stored
	return nil
}

func (f *fakeStore) Set(ctx context.Context, document docstore.Path, data json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("set", document); err != nil {
		return err
	}
	collection := document.CollectionPath().String()
	stored, ok := f.docs[collection][document.DocumentID]
	at := f.tick()
	if !ok {
		stored = docstore.Document{ID: document.DocumentID, CreatedAt: at}
	}
	merged, err := mergeJSON(stored.Data, data)
	if err != nil {
		return err
	}
	stored.Data = merged
	stored.UpdatedAt = at
	f.put(collection, stored)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, document docstore.Path) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("delete", document); err != nil {
		return err
	}
	collection := document.CollectionPath().String()
	delete(f.docs[collection], document.DocumentID)
	f.order[collection] = slices.DeleteFunc(f.order[collection], func(id string) bool {
		return id == document.DocumentID
	})
	return nil
}

func (f *fakeStore) List(ctx context.Context, collection docstore.Path, order *docstore.Order) ([]docstore.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("list", collection); err != nil {
		return nil, err
	}
	ids := f.order[collection.String()]
	documents := make([]docstore.Document, 0, len(ids))
	for _, id := range ids {
		documents = append(documents, f.docs[collection.String()][id])
	}
	if order != nil && order.Direction == docstore.Descending {
		slices.Reverse(documents)
	}
	return documents, nil
}

func (f *fakeStore) put(collection string, document docstore.Document) {
	if _, ok := f.docs[collection]; !ok {
		f.docs[collection] = make(map[string]docstore.Document)
	}
	if _, exists := f.docs[collection][document.ID]; !exists {
		f.order[collection] = append(f.order[collection], document.ID)
	}
	f.docs[collection][document.ID] = document
}

func (f *fakeStore) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, call := range f.calls {
		if call.op == op {
			total++
		}
	}
	return total
}

func (f *fakeStore) has(userID string, collection Collection, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[docstore.CollectionPath(userID, string(collection)).String()][id]
	return ok
}

func (f *fakeStore) size(userID string, collection Collection) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs[docstore.CollectionPath(userID, string(collection)).String()])
}

// seed stores entity directly and returns its id.
func (f *fakeStore) seed(t *testing.T, userID string, collection Collection, entity any) string {
	t.Helper()
	payload, err := encodeEntity(entity)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	at := f.tick()
	document := docstore.Document{ID: fmt.Sprintf("doc-%d", f.nextID), Data: payload, CreatedAt: at, UpdatedAt: at}
	f.put(docstore.CollectionPath(userID, string(collection)).String(), document)
	return document.ID
}

func mergeJSON(base, partial json.RawMessage) (json.RawMessage, error) {
	fields := make(map[string]json.RawMessage)
	if len(base) > 0 {
		if err := json.Unmarshal(base, &fields); err != nil {
			return nil, err
		}
	}
	var changes map[string]json.RawMessage
	if err := json.Unmarshal(partial, &changes); err != nil {
		return nil, err
	}
	for key, value := range changes {
		if string(value) == "null" {
			delete(fields, key)
			continue
		}
		fields[key] = value
	}
	return json.Marshal(fields)
}

// fakeOffline is an in-memory OfflineFallback.
type fakeOffline struct {
	mu        sync.Mutex
	snapshots map[string]CacheState
	writes    int
}

func newFakeOffline() *fakeOffline {
	return &fakeOffline{snapshots: make(map[string]CacheState)}
}

func (o *fakeOffline) ReadSnapshot(ctx context.Context, userID string) (*CacheState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.snapshots[userID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (o *fakeOffline) WriteSnapshot(ctx context.Context, userID string, state CacheState) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.snapshots[userID] = state
	o.writes++
	return nil
}

func (o *fakeOffline) snapshot(userID string) (CacheState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.snapshots[userID]
	return state, ok
}

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%s%d", placeholderPrefix, s.next), nil
}

func newTestSession(t *testing.T, store *fakeStore, offline OfflineFallback) *Session {
	t.Helper()
	clock := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	session, err := NewSession(SessionConfig{
		Store:      store,
		Offline:    offline,
		IDProvider: &sequenceIDs{},
		Clock:      func() time.Time { return clock },
	})
	require.NoError(t, err)
	t.Cleanup(session.Close)
	return session
}

func signedInSession(t *testing.T, store *fakeStore, userID string) *Session {
	t.Helper()
	session := newTestSession(t, store, nil)
	require.NoError(t, session.SignIn(context.Background(), userID))
	return session
}

func ptr[T any](value T) *T {
	return &value
}

func item(title string, mediaType media.MediaType, status media.Status, rating, hours *float64) media.MediaItem {
	return media.MediaItem{Title: title, Type: mediaType, Status: status, Rating: rating, HoursSpent: hours}
}
