// Package documents persists users/{uid}/{collection}/{id} documents in SQL through GORM
// and implements docstore.Store for the API server.
package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/docstore"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

var _ docstore.Store = (*Service)(nil)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "documents.service.new"
	opAdd        = "documents.add"
	opGet        = "documents.get"
	opUpdate     = "documents.update"
	opSet        = "documents.set"
	opDelete     = "documents.delete"
	opList       = "documents.list"
)

const (
	orderFieldCreatedAt = "createdAt"
	orderFieldUpdatedAt = "updatedAt"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// IDProvider issues document and audit identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Add stores data under a freshly issued id.
func (s *Service) Add(ctx context.Context, collection docstore.Path, data json.RawMessage) (docstore.Document, error) {
	documentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAdd, "id_generation_failed", err, zap.String("path", collection.String()))
		return docstore.Document{}, newServiceError(opAdd, "id_generation_failed", err)
	}
	stored, err := s.write(ctx, opAdd, collection.Child(documentID), OperationTypeAdd, data)
	if err != nil {
		return docstore.Document{}, err
	}
	return toStoreDocument(*stored), nil
}

// Get returns nil when the document is missing or deleted.
func (s *Service) Get(ctx context.Context, document docstore.Path) (*docstore.Document, error) {
	request, err := s.parseRequest(opGet, document, "")
	if err != nil {
		return nil, err
	}

	var stored Document
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND collection = ? AND document_id = ? AND is_deleted = ?",
			request.UserID.String(), request.Collection.String(), request.DocumentID.String(), false).
		Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("path", document.String()))
		return nil, newServiceError(opGet, "query_failed", err)
	}
	result := toStoreDocument(stored)
	return &result, nil
}

// Update merges partial into an existing document; a missing document fails with docstore.ErrNotFound.
func (s *Service) Update(ctx context.Context, document docstore.Path, partial json.RawMessage) error {
	_, err := s.write(ctx, opUpdate, document, OperationTypeUpdate, partial)
	return err
}

// Set merges data into the document and creates it when absent.
func (s *Service) Set(ctx context.Context, document docstore.Path, data json.RawMessage) error {
	_, err := s.write(ctx, opSet, document, OperationTypeSet, data)
	return err
}

// Delete soft-deletes the document. Deleting a missing document succeeds.
func (s *Service) Delete(ctx context.Context, document docstore.Path) error {
	_, err := s.write(ctx, opDelete, document, OperationTypeDelete, nil)
	return err
}

// List returns the live documents of a collection, ordered by the requested metadata
// field and tie-broken by document id. A nil order lists by creation time ascending.
func (s *Service) List(ctx context.Context, collection docstore.Path, order *docstore.Order) ([]docstore.Document, error) {
	if err := collection.ValidateCollection(); err != nil {
		return nil, newServiceError(opList, "invalid_path", err)
	}
	userID, err := NewUserID(collection.UserID)
	if err != nil {
		return nil, newServiceError(opList, "invalid_path", fmt.Errorf("%w: %v", docstore.ErrInvalidPath, err))
	}
	name, err := NewCollectionName(collection.Collection)
	if err != nil {
		return nil, newServiceError(opList, "invalid_path", fmt.Errorf("%w: %v", docstore.ErrInvalidPath, err))
	}
	orderClause, err := listOrder(order)
	if err != nil {
		return nil, newServiceError(opList, "invalid_order", err)
	}

	var rows []Document
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND collection = ? AND is_deleted = ?", userID.String(), name.String(), false).
		Order(orderClause).
		Find(&rows).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("path", collection.String()))
		return nil, newServiceError(opList, "query_failed", err)
	}

	documents := make([]docstore.Document, 0, len(rows))
	for _, row := range rows {
		documents = append(documents, toStoreDocument(row))
	}
	return documents, nil
}

func listOrder(order *docstore.Order) (string, error) {
	if order == nil {
		return "created_at_s ASC, document_id ASC", nil
	}
	var column string
	switch order.Field {
	case orderFieldCreatedAt, "":
		column = "created_at_s"
	case orderFieldUpdatedAt:
		column = "updated_at_s"
	default:
		return "", fmt.Errorf("%w: unsupported field %q", ErrInvalidOrder, order.Field)
	}
	direction := "ASC"
	switch order.Direction {
	case docstore.Ascending, "":
	case docstore.Descending:
		direction = "DESC"
	default:
		return "", fmt.Errorf("%w: unsupported direction %q", ErrInvalidOrder, order.Direction)
	}
	return fmt.Sprintf("%s %s, document_id %s", column, direction, direction), nil
}

func (s *Service) write(ctx context.Context, operation string, document docstore.Path, kind OperationType, payload json.RawMessage) (*Document, error) {
	request, err := s.parseRequest(operation, document, kind)
	if err != nil {
		return nil, err
	}
	if kind != OperationTypeDelete {
		if _, err := decodeObject(string(payload)); err != nil || len(payload) == 0 {
			if err == nil {
				err = ErrInvalidPayload
			}
			return nil, newServiceError(operation, "invalid_payload", err)
		}
		request.PayloadJSON = string(payload)
	}

	var stored *Document
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Document
		var existingPtr *Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND collection = ? AND document_id = ?",
				request.UserID.String(), request.Collection.String(), request.DocumentID.String()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			existingPtr = nil
		} else if err != nil {
			s.logError(operation, "document_select_failed", err, zap.String("path", document.String()))
			return newServiceError(operation, "document_select_failed", err)
		} else {
			existingPtr = &existing
		}

		outcome, err := applyWrite(existingPtr, request, s.clock().UTC())
		if errors.Is(err, docstore.ErrNotFound) {
			return newServiceError(operation, "not_found", err)
		}
		if errors.Is(err, ErrDocumentExists) {
			return newServiceError(operation, "conflict", err)
		}
		if err != nil {
			return newServiceError(operation, "invalid_payload", err)
		}
		stored = outcome.UpdatedDocument
		if !outcome.Changed {
			return nil
		}

		if err := tx.Save(outcome.UpdatedDocument).Error; err != nil {
			s.logError(operation, "document_save_failed", err, zap.String("path", document.String()))
			return newServiceError(operation, "document_save_failed", err)
		}

		changeID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(operation, "id_generation_failed", err, zap.String("path", document.String()))
			return newServiceError(operation, "id_generation_failed", err)
		}
		outcome.AuditRecord.ChangeID = changeID
		if err := tx.Create(outcome.AuditRecord).Error; err != nil {
			s.logError(operation, "audit_insert_failed", err, zap.String("path", document.String()))
			return newServiceError(operation, "audit_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return stored, nil
}

func (s *Service) parseRequest(operation string, document docstore.Path, kind OperationType) (WriteRequest, error) {
	if err := document.ValidateDocument(); err != nil {
		return WriteRequest{}, newServiceError(operation, "invalid_path", err)
	}
	userID, err := NewUserID(document.UserID)
	if err != nil {
		return WriteRequest{}, newServiceError(operation, "invalid_path", fmt.Errorf("%w: %v", docstore.ErrInvalidPath, err))
	}
	collection, err := NewCollectionName(document.Collection)
	if err != nil {
		return WriteRequest{}, newServiceError(operation, "invalid_path", fmt.Errorf("%w: %v", docstore.ErrInvalidPath, err))
	}
	documentID, err := NewDocumentID(document.DocumentID)
	if err != nil {
		return WriteRequest{}, newServiceError(operation, "invalid_path", fmt.Errorf("%w: %v", docstore.ErrInvalidPath, err))
	}
	return WriteRequest{UserID: userID, Collection: collection, DocumentID: documentID, Operation: kind}, nil
}

func toStoreDocument(row Document) docstore.Document {
	return docstore.Document{
		ID:        row.DocumentID,
		Data:      json.RawMessage(row.PayloadJSON),
		CreatedAt: time.Unix(row.CreatedAtSeconds, 0).UTC(),
		UpdatedAt: time.Unix(row.UpdatedAtSeconds, 0).UTC(),
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("documents service error", attrs...)
}
