// Package server exposes the document store over HTTP for diary clients.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/docstore"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/documents"
)

const (
	userIDContextKey         = "mediadiary_user_id"
	accessTokenQueryKey      = "access_token"
	defaultHeartbeatInterval = 25 * time.Second
	maxPayloadBytes          = 1 << 20
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingDocumentStore  = errors.New("document store dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator resolves a bearer token to the user id it was issued for.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	TokenValidator    TokenValidator
	Documents         docstore.Store
	Logger            *zap.Logger
	Realtime          *RealtimeDispatcher
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Documents == nil {
		return nil, errMissingDocumentStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:            deps.TokenValidator,
		documents:         deps.Documents,
		realtime:          deps.Realtime,
		heartbeatInterval: heartbeat,
		logger:            logger,
	}

	router.GET("/healthz", handler.handleHealth)

	users := router.Group("/users/:uid")
	users.Use(handler.authorizeRequest, handler.requireOwner)
	users.POST("/:collection", handler.handleAdd)
	users.GET("/:collection", handler.handleList)
	users.GET("/:collection/:id", handler.handleGet)
	users.PATCH("/:collection/:id", handler.handleUpdate)
	users.PUT("/:collection/:id", handler.handleSet)
	users.DELETE("/:collection/:id", handler.handleDelete)

	if deps.Realtime != nil {
		streams := router.Group("/streams/:uid")
		streams.Use(handler.authorizeRequest, handler.requireOwner)
		streams.GET("", handler.handleEventStream)
	}

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	tokens            TokenValidator
	documents         docstore.Store
	realtime          *RealtimeDispatcher
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleAdd(c *gin.Context) {
	payload, ok := h.readPayload(c)
	if !ok {
		return
	}
	collection := collectionPath(c)
	document, err := h.documents.Add(c.Request.Context(), collection, payload)
	if err != nil {
		h.respondError(c, "add", collection, err)
		return
	}
	h.publish(collection, document.ID)
	c.JSON(http.StatusCreated, document)
}

func (h *httpHandler) handleList(c *gin.Context) {
	collection := collectionPath(c)
	order := listOrder(c)
	listed, err := h.documents.List(c.Request.Context(), collection, order)
	if err != nil {
		h.respondError(c, "list", collection, err)
		return
	}
	if listed == nil {
		listed = []docstore.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": listed})
}

func (h *httpHandler) handleGet(c *gin.Context) {
	path := documentPath(c)
	document, err := h.documents.Get(c.Request.Context(), path)
	if err != nil {
		h.respondError(c, "get", path, err)
		return
	}
	if document == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handleUpdate(c *gin.Context) {
	payload, ok := h.readPayload(c)
	if !ok {
		return
	}
	path := documentPath(c)
	if err := h.documents.Update(c.Request.Context(), path, payload); err != nil {
		h.respondError(c, "update", path, err)
		return
	}
	h.publish(path, path.DocumentID)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSet(c *gin.Context) {
	payload, ok := h.readPayload(c)
	if !ok {
		return
	}
	path := documentPath(c)
	if err := h.documents.Set(c.Request.Context(), path, payload); err != nil {
		h.respondError(c, "set", path, err)
		return
	}
	h.publish(path, path.DocumentID)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	path := documentPath(c)
	if err := h.documents.Delete(c.Request.Context(), path); err != nil {
		h.respondError(c, "delete", path, err)
		return
	}
	h.publish(path, path.DocumentID)
	c.Status(http.StatusNoContent)
}

type realtimeEventPayload struct {
	Collection  string   `json:"collection"`
	DocumentIDs []string `json:"documentIds"`
	Timestamp   int64    `json:"timestamp"`
	Source      string   `json:"source"`
}

func (h *httpHandler) handleEventStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	ctx := c.Request.Context()
	subscription := h.realtime.Subscribe(ctx, userID, c.QueryArray("collection")...)
	defer func() {
		subscription.Close()
		if dropped := subscription.Dropped(); dropped > 0 {
			h.logger.Debug("realtime subscriber fell behind", zap.String("user_id", userID), zap.Int64("dropped", dropped))
		}
	}()
	stream := subscription.Events()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				Collection:  message.Collection,
				DocumentIDs: message.DocumentIDs,
				Timestamp:   message.Timestamp.Unix(),
				Source:      realtimeSourceBackend,
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		}
	})
}

func (h *httpHandler) publish(path docstore.Path, documentID string) {
	if h.realtime == nil || documentID == "" {
		return
	}
	h.realtime.Publish(RealtimeMessage{
		UserID:      path.UserID,
		EventType:   RealtimeEventDocumentChanged,
		Collection:  path.Collection,
		DocumentIDs: []string{documentID},
		Timestamp:   time.Now().UTC(),
	})
}

func (h *httpHandler) readPayload(c *gin.Context) (json.RawMessage, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes+1))
	if err != nil || len(body) > maxPayloadBytes || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return nil, false
	}
	return json.RawMessage(body), true
}

func (h *httpHandler) respondError(c *gin.Context, action string, path docstore.Path, err error) {
	status, code := statusForError(err)
	fields := []zap.Field{zap.String("action", action), zap.String("path", path.String()), zap.Error(err)}
	var serviceErr *documents.ServiceError
	if errors.As(err, &serviceErr) {
		fields = append(fields, zap.String("code", serviceErr.Code()))
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("document request failed", fields...)
	} else {
		h.logger.Info("document request rejected", fields...)
	}
	c.JSON(status, gin.H{"error": code})
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, docstore.ErrInvalidPath):
		return http.StatusBadRequest, "invalid_path"
	case errors.Is(err, documents.ErrInvalidPayload):
		return http.StatusBadRequest, "invalid_payload"
	case errors.Is(err, documents.ErrInvalidOrder):
		return http.StatusBadRequest, "invalid_order"
	case errors.Is(err, documents.ErrDocumentExists):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// requireOwner rejects requests whose :uid differs from the token subject.
func (h *httpHandler) requireOwner(c *gin.Context) {
	subject := c.GetString(userIDContextKey)
	if subject == "" || subject != c.Param("uid") {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return strings.TrimSpace(c.Query(accessTokenQueryKey))
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func collectionPath(c *gin.Context) docstore.Path {
	return docstore.CollectionPath(c.Param("uid"), c.Param("collection"))
}

func documentPath(c *gin.Context) docstore.Path {
	return docstore.DocumentPath(c.Param("uid"), c.Param("collection"), c.Param("id"))
}

func listOrder(c *gin.Context) *docstore.Order {
	field := strings.TrimSpace(c.Query("order_by"))
	direction := strings.TrimSpace(c.Query("direction"))
	if field == "" && direction == "" {
		return nil
	}
	return &docstore.Order{Field: field, Direction: docstore.Direction(strings.ToLower(direction))}
}
