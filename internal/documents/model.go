package documents

import (
	"errors"
	"fmt"
	"strings"
)

// OperationType enumerates the write operations recorded in the audit trail.
type OperationType string

const (
	// OperationTypeAdd creates a document under a store-assigned id.
	OperationTypeAdd OperationType = "add"
	// OperationTypeUpdate shallow-merges into an existing document.
	OperationTypeUpdate OperationType = "update"
	// OperationTypeSet shallow-merges into a document, creating it when absent.
	OperationTypeSet OperationType = "set"
	// OperationTypeDelete marks a document as deleted.
	OperationTypeDelete OperationType = "delete"
)

const (
	maxIdentifierLength = 190
	maxCollectionLength = 64
)

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("documents: invalid user id")
	// ErrInvalidCollection indicates a malformed collection name.
	ErrInvalidCollection = errors.New("documents: invalid collection")
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("documents: invalid document id")
	// ErrInvalidPayload indicates that a payload is not a JSON object.
	ErrInvalidPayload = errors.New("documents: payload must be a JSON object")
	// ErrDocumentExists indicates an add collided with an existing id.
	ErrDocumentExists = errors.New("documents: document already exists")
	// ErrInvalidOrder indicates an unsupported list ordering.
	ErrInvalidOrder = errors.New("documents: invalid order")
)

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed, err := validateIdentifier(rawInput, maxIdentifierLength)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUserID, err)
	}
	return UserID(trimmed), nil
}

func (id UserID) String() string {
	return string(id)
}

// CollectionName represents a validated collection name such as "mediaItems".
type CollectionName string

// NewCollectionName validates raw input and returns a CollectionName.
func NewCollectionName(rawInput string) (CollectionName, error) {
	trimmed, err := validateIdentifier(rawInput, maxCollectionLength)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCollection, err)
	}
	for _, r := range trimmed {
		if !isCollectionRune(r) {
			return "", fmt.Errorf("%w: unexpected character %q", ErrInvalidCollection, r)
		}
	}
	return CollectionName(trimmed), nil
}

func (c CollectionName) String() string {
	return string(c)
}

// DocumentID represents a validated document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed, err := validateIdentifier(rawInput, maxIdentifierLength)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDocumentID, err)
	}
	return DocumentID(trimmed), nil
}

func (id DocumentID) String() string {
	return string(id)
}

func validateIdentifier(rawInput string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", errors.New("empty")
	}
	if len(trimmed) > maxLength {
		return "", fmt.Errorf("exceeds %d characters", maxLength)
	}
	if strings.Contains(trimmed, "/") {
		return "", errors.New("contains a path separator")
	}
	return trimmed, nil
}

func isCollectionRune(r rune) bool {
	return r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Document is one persisted JSON object plus store-managed metadata.
type Document struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_documents_user_collection,priority:1"`
	Collection       string `gorm:"column:collection;primaryKey;size:64;not null;index:idx_documents_user_collection,priority:2"`
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_documents_user_collection,priority:3"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	Version          int64  `gorm:"column:version;not null;default:1"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// DocumentChange captures an append-only audit trail for document writes.
type DocumentChange struct {
	ChangeID         string        `gorm:"column:change_id;primaryKey;size:190;not null"`
	UserID           string        `gorm:"column:user_id;not null;index:idx_document_changes_user_time,priority:1"`
	Collection       string        `gorm:"column:collection;size:64;not null"`
	DocumentID       string        `gorm:"column:document_id;size:190;not null"`
	AppliedAtSeconds int64         `gorm:"column:applied_at_s;not null;index:idx_document_changes_user_time,priority:2"`
	Operation        OperationType `gorm:"column:op;not null"`
	PayloadJSON      string        `gorm:"column:payload_json;type:text;not null"`
	PreviousVersion  *int64        `gorm:"column:prev_version"`
	NewVersion       *int64        `gorm:"column:new_version"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentChange) TableName() string {
	return "document_changes"
}

// WriteRequest describes one validated write against a document.
type WriteRequest struct {
	UserID      UserID
	Collection  CollectionName
	DocumentID  DocumentID
	Operation   OperationType
	PayloadJSON string
}

// WriteOutcome captures the decision from applyWrite. Changed is false for no-op
// deletes, which produce no audit record.
type WriteOutcome struct {
	Changed         bool
	UpdatedDocument *Document
	AuditRecord     *DocumentChange
}
