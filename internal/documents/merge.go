package documents

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/docstore"
)

// applyWrite computes the stored document and audit record for request. existing is
// nil when no row exists for the id; soft-deleted rows are passed through.
func applyWrite(existing *Document, request WriteRequest, appliedAt time.Time) (WriteOutcome, error) {
	live := existing != nil && !existing.IsDeleted
	appliedSeconds := appliedAt.Unix()

	stored := Document{
		UserID:     request.UserID.String(),
		Collection: request.Collection.String(),
		DocumentID: request.DocumentID.String(),
	}
	if existing != nil {
		stored = *existing
	}

	updated := stored
	switch request.Operation {
	case OperationTypeAdd:
		if existing != nil {
			return WriteOutcome{}, ErrDocumentExists
		}
		payload, err := mergePayload("", request.PayloadJSON)
		if err != nil {
			return WriteOutcome{}, err
		}
		updated.PayloadJSON = payload
		updated.CreatedAtSeconds = appliedSeconds
	case OperationTypeUpdate:
		if !live {
			return WriteOutcome{}, docstore.ErrNotFound
		}
		payload, err := mergePayload(stored.PayloadJSON, request.PayloadJSON)
		if err != nil {
			return WriteOutcome{}, err
		}
		updated.PayloadJSON = payload
	case OperationTypeSet:
		base := stored.PayloadJSON
		if !live {
			base = ""
			updated.CreatedAtSeconds = appliedSeconds
			updated.IsDeleted = false
		}
		payload, err := mergePayload(base, request.PayloadJSON)
		if err != nil {
			return WriteOutcome{}, err
		}
		updated.PayloadJSON = payload
	case OperationTypeDelete:
		if !live {
			copyStored := stored
			return WriteOutcome{Changed: false, UpdatedDocument: &copyStored}, nil
		}
		updated.IsDeleted = true
	default:
		return WriteOutcome{}, fmt.Errorf("documents: unsupported operation %q", request.Operation)
	}

	updated.UpdatedAtSeconds = stored.UpdatedAtSeconds
	if appliedSeconds > updated.UpdatedAtSeconds {
		updated.UpdatedAtSeconds = appliedSeconds
	}
	if updated.CreatedAtSeconds == 0 || updated.CreatedAtSeconds > updated.UpdatedAtSeconds {
		updated.CreatedAtSeconds = updated.UpdatedAtSeconds
	}

	nextVersion := stored.Version + 1
	if nextVersion <= 0 {
		nextVersion = 1
	}
	updated.Version = nextVersion

	audit := &DocumentChange{
		UserID:           updated.UserID,
		Collection:       updated.Collection,
		DocumentID:       updated.DocumentID,
		AppliedAtSeconds: appliedSeconds,
		Operation:        request.Operation,
		PayloadJSON:      updated.PayloadJSON,
		NewVersion:       pointerTo(updated.Version),
	}
	if stored.Version > 0 {
		audit.PreviousVersion = pointerTo(stored.Version)
	}

	return WriteOutcome{Changed: true, UpdatedDocument: &updated, AuditRecord: audit}, nil
}

// mergePayload shallow-merges partial into base. A null value removes the key.
func mergePayload(base, partial string) (string, error) {
	fields := make(map[string]json.RawMessage)
	if base != "" {
		if err := json.Unmarshal([]byte(base), &fields); err != nil {
			return "", fmt.Errorf("%w: stored payload: %v", ErrInvalidPayload, err)
		}
	}
	changes, err := decodeObject(partial)
	if err != nil {
		return "", err
	}
	for key, value := range changes {
		if string(value) == "null" {
			delete(fields, key)
			continue
		}
		fields[key] = value
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return string(merged), nil
}

func decodeObject(raw string) (map[string]json.RawMessage, error) {
	if raw == "" {
		return map[string]json.RawMessage{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if fields == nil {
		return nil, ErrInvalidPayload
	}
	return fields, nil
}

func pointerTo(value int64) *int64 {
	v := value
	return &v
}
