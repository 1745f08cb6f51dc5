package library

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/docstore"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/media"
)

// storeManagedKeys are owned by the document store and never written by the client.
var storeManagedKeys = []string{"id", "createdAt", "updatedAt"}

// encodeEntity renders an entity as a store payload without store-managed keys.
func encodeEntity(entity any) (json.RawMessage, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	for _, key := range storeManagedKeys {
		delete(fields, key)
	}
	return json.Marshal(fields)
}

// encodeFields renders a partial update. Nil values clear the key in the store.
func encodeFields(fields map[string]any) (json.RawMessage, error) {
	cleaned := maps.Clone(fields)
	for _, key := range storeManagedKeys {
		delete(cleaned, key)
	}
	raw, err := json.Marshal(cleaned)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return raw, nil
}

// decodeDocument builds an entity from a stored document, taking id and timestamps
// from the store metadata rather than the payload.
func decodeDocument[T Record[T]](document docstore.Document) (T, error) {
	var entity T
	if len(document.Data) > 0 {
		if err := json.Unmarshal(document.Data, &entity); err != nil {
			return entity, fmt.Errorf("decode document %s: %w", document.ID, err)
		}
	}
	return entity.WithID(document.ID).WithTimestamps(document.CreatedAt, document.UpdatedAt), nil
}

func decodeDocuments[T Record[T]](documents []docstore.Document) ([]T, error) {
	entities := make([]T, 0, len(documents))
	for _, document := range documents {
		entity, err := decodeDocument[T](document)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

func decodeSettings(document *docstore.Document) (*media.Settings, error) {
	if document == nil {
		return nil, nil
	}
	var settings media.Settings
	if len(document.Data) > 0 {
		if err := json.Unmarshal(document.Data, &settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	settings.UpdatedAt = document.UpdatedAt
	return &settings, nil
}

// mergeFields folds a later partial update into an earlier one.
func mergeFields(into, later map[string]any) map[string]any {
	if into == nil {
		into = make(map[string]any, len(later))
	}
	maps.Copy(into, later)
	return into
}

// applyFields overlays a partial update on entity the way the store merges it:
// nil values remove the key.
func applyFields[T Record[T]](entity T, fields map[string]any) (T, error) {
	if len(fields) == 0 {
		return entity, nil
	}
	raw, err := json.Marshal(entity)
	if err != nil {
		return entity, fmt.Errorf("apply fields: %w", err)
	}
	var merged map[string]any
	if err := json.Unmarshal(raw, &merged); err != nil {
		return entity, fmt.Errorf("apply fields: %w", err)
	}
	for key, value := range fields {
		if value == nil {
			delete(merged, key)
			continue
		}
		merged[key] = value
	}
	raw, err = json.Marshal(merged)
	if err != nil {
		return entity, fmt.Errorf("apply fields: %w", err)
	}
	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return entity, fmt.Errorf("apply fields: %w", err)
	}
	return result.WithID(entity.EntityID()), nil
}
