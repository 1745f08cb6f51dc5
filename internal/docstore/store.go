// Package docstore defines the hierarchical document store contract used by the diary core.
// Documents live at users/{uid}/{collection}/{id}.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the addressed document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrUnavailable indicates the store could not be reached.
	ErrUnavailable = errors.New("docstore: store unavailable")
	// ErrInvalidPath indicates a malformed document or collection path.
	ErrInvalidPath = errors.New("docstore: invalid path")
)

// Document is a stored JSON object plus store-assigned metadata.
type Document struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Direction orders List results.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Order requests List ordering by a metadata field ("createdAt" or "updatedAt").
type Order struct {
	Field     string
	Direction Direction
}

// Store is the document persistence service. Implementations decide their own timeouts.
type Store interface {
	// Add creates a document under collection; the store assigns id and timestamps.
	Add(ctx context.Context, collection Path, data json.RawMessage) (Document, error)
	// Get returns the document or nil when it does not exist.
	Get(ctx context.Context, document Path) (*Document, error)
	// Update shallow-merges partial into an existing document. Null values remove keys.
	Update(ctx context.Context, document Path, partial json.RawMessage) error
	// Set merges data into the document, creating it when absent.
	Set(ctx context.Context, document Path, data json.RawMessage) error
	// Delete removes the document; deleting a missing document succeeds.
	Delete(ctx context.Context, document Path) error
	// List returns every document in the collection.
	List(ctx context.Context, collection Path, order *Order) ([]Document, error)
}
