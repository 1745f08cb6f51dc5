package library

import (
	"errors"
	"time"
)

// Record is implemented by the cached entity types.
type Record[T any] interface {
	EntityID() string
	WithID(id string) T
	Touch(at time.Time) T
	WithTimestamps(createdAt, updatedAt time.Time) T
}

var (
	errDuplicateID = errors.New("library: duplicate id")
	errMissingID   = errors.New("library: missing id")
)

// Table is one ordered, id-indexed collection. The head of the list is the most recent
// entry. Table does no locking; Session serializes access.
type Table[T Record[T]] struct {
	collection Collection
	order      []string
	byID       map[string]T
}

func newTable[T Record[T]](collection Collection) *Table[T] {
	return &Table[T]{collection: collection, byID: make(map[string]T)}
}

// ReplaceAll discards the current contents and installs items in the given order.
// Later duplicates of an id are dropped.
func (t *Table[T]) ReplaceAll(items []T) {
	t.order = make([]string, 0, len(items))
	t.byID = make(map[string]T, len(items))
	for _, item := range items {
		id := item.EntityID()
		if id == "" {
			continue
		}
		if _, exists := t.byID[id]; exists {
			continue
		}
		t.order = append(t.order, id)
		t.byID[id] = item
	}
}

// Insert places item at the head. The id must not already be present.
func (t *Table[T]) Insert(item T) error {
	id := item.EntityID()
	if id == "" {
		return errMissingID
	}
	if _, exists := t.byID[id]; exists {
		return errDuplicateID
	}
	t.order = append([]string{id}, t.order...)
	t.byID[id] = item
	return nil
}

// Patch merges changes into the entry for id and stamps its UpdatedAt.
// It returns the entry before and after the change.
func (t *Table[T]) Patch(id string, merge func(T) T, at time.Time) (T, T, error) {
	before, ok := t.byID[id]
	if !ok {
		var zero T
		return zero, zero, &NotFoundError{Collection: t.collection, ID: id}
	}
	after := merge(before).WithID(id).Touch(at)
	t.byID[id] = after
	return before, after, nil
}

// Put overwrites an existing entry in place, keeping its list position.
func (t *Table[T]) Put(item T) bool {
	id := item.EntityID()
	if _, ok := t.byID[id]; !ok {
		return false
	}
	t.byID[id] = item
	return true
}

// Remove deletes id. Removing an absent id is a no-op.
func (t *Table[T]) Remove(id string) (T, bool) {
	removed, ok := t.byID[id]
	if !ok {
		return removed, false
	}
	delete(t.byID, id)
	if index := t.indexOf(id); index >= 0 {
		t.order = append(t.order[:index], t.order[index+1:]...)
	}
	return removed, true
}

// Rekey swaps oldID for newID at the same list position. When newID is already
// present the oldID entry is dropped so ids stay unique.
func (t *Table[T]) Rekey(oldID, newID string) bool {
	item, ok := t.byID[oldID]
	if !ok {
		return false
	}
	if oldID == newID {
		return true
	}
	if _, exists := t.byID[newID]; exists {
		t.Remove(oldID)
		return false
	}
	index := t.indexOf(oldID)
	delete(t.byID, oldID)
	t.byID[newID] = item.WithID(newID)
	if index >= 0 {
		t.order[index] = newID
	}
	return true
}

// Get returns the entry for id.
func (t *Table[T]) Get(id string) (T, bool) {
	item, ok := t.byID[id]
	return item, ok
}

// Position returns the list index of id, or -1.
func (t *Table[T]) Position(id string) int {
	return t.indexOf(id)
}

// List returns the entries in list order.
func (t *Table[T]) List() []T {
	items := make([]T, 0, len(t.order))
	for _, id := range t.order {
		items = append(items, t.byID[id])
	}
	return items
}

// Len returns the number of entries.
func (t *Table[T]) Len() int {
	return len(t.order)
}

func (t *Table[T]) clear() {
	t.order = nil
	t.byID = make(map[string]T)
}

func (t *Table[T]) indexOf(id string) int {
	for index, candidate := range t.order {
		if candidate == id {
			return index
		}
	}
	return -1
}
