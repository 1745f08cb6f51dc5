package offline

import (
	"context"
	"encoding/json"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/docstore"
)

type unreachableStore struct{}

func (unreachableStore) Add(context.Context, docstore.Path, json.RawMessage) (docstore.Document, error) {
	return docstore.Document{}, docstore.ErrUnavailable
}

func (unreachableStore) Get(context.Context, docstore.Path) (*docstore.Document, error) {
	return nil, docstore.ErrUnavailable
}

func (unreachableStore) Update(context.Context, docstore.Path, json.RawMessage) error {
	return docstore.ErrUnavailable
}

func (unreachableStore) Set(context.Context, docstore.Path, json.RawMessage) error {
	return docstore.ErrUnavailable
}

func (unreachableStore) Delete(context.Context, docstore.Path) error {
	return docstore.ErrUnavailable
}

func (unreachableStore) List(context.Context, docstore.Path, *docstore.Order) ([]docstore.Document, error) {
	return nil, docstore.ErrUnavailable
}
