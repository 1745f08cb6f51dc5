// Package docclient implements docstore.Store against the mediadiary HTTP API.
package docclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/docstore"
)

const defaultTimeout = 10 * time.Second

var (
	errMissingBaseURL = errors.New("docclient: base url is required")
	errMissingToken   = errors.New("docclient: token is required")

	// ErrUnauthorized indicates the API rejected the bearer token.
	ErrUnauthorized = errors.New("docclient: unauthorized")
	// ErrRejected indicates the API refused the request as malformed.
	ErrRejected = errors.New("docclient: request rejected")
)

var _ docstore.Store = (*Client)(nil)

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is a docstore.Store backed by the HTTP document API. Transport failures and
// 5xx responses surface as docstore.ErrUnavailable.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// StatusError carries a non-success HTTP response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Code       string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("docclient: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("docclient: %s %s: status %d (%s)", e.Method, e.Path, e.StatusCode, e.Code)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return docstore.ErrNotFound
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode >= http.StatusInternalServerError:
		return docstore.ErrUnavailable
	case e.Code == "invalid_path":
		return docstore.ErrInvalidPath
	default:
		return ErrRejected
	}
}

// New validates cfg and constructs a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("docclient: parse base url: %w", err)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errMissingToken
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: parsed, token: cfg.Token, http: httpClient, logger: logger}, nil
}

func (c *Client) Add(ctx context.Context, collection docstore.Path, data json.RawMessage) (docstore.Document, error) {
	if err := collection.ValidateCollection(); err != nil {
		return docstore.Document{}, err
	}
	var document docstore.Document
	if err := c.do(ctx, http.MethodPost, collection, nil, data, http.StatusCreated, &document); err != nil {
		return docstore.Document{}, err
	}
	return document, nil
}

func (c *Client) Get(ctx context.Context, document docstore.Path) (*docstore.Document, error) {
	if err := document.ValidateDocument(); err != nil {
		return nil, err
	}
	var fetched docstore.Document
	err := c.do(ctx, http.MethodGet, document, nil, nil, http.StatusOK, &fetched)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fetched, nil
}

func (c *Client) Update(ctx context.Context, document docstore.Path, partial json.RawMessage) error {
	if err := document.ValidateDocument(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPatch, document, nil, partial, http.StatusNoContent, nil)
}

func (c *Client) Set(ctx context.Context, document docstore.Path, data json.RawMessage) error {
	if err := document.ValidateDocument(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, document, nil, data, http.StatusNoContent, nil)
}

func (c *Client) Delete(ctx context.Context, document docstore.Path) error {
	if err := document.ValidateDocument(); err != nil {
		return err
	}
	err := c.do(ctx, http.MethodDelete, document, nil, nil, http.StatusNoContent, nil)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	return err
}

func (c *Client) List(ctx context.Context, collection docstore.Path, order *docstore.Order) ([]docstore.Document, error) {
	if err := collection.ValidateCollection(); err != nil {
		return nil, err
	}
	query := url.Values{}
	if order != nil {
		if order.Field != "" {
			query.Set("order_by", order.Field)
		}
		if order.Direction != "" {
			query.Set("direction", string(order.Direction))
		}
	}
	var page struct {
		Documents []docstore.Document `json:"documents"`
	}
	if err := c.do(ctx, http.MethodGet, collection, query, nil, http.StatusOK, &page); err != nil {
		return nil, err
	}
	return page.Documents, nil
}

func (c *Client) do(ctx context.Context, method string, path docstore.Path, query url.Values, body json.RawMessage, expected int, out any) error {
	endpoint := c.baseURL.JoinPath(pathSegments(path)...)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("docclient: build request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.http.Do(request)
	if err != nil {
		c.logger.Debug("document request failed", zap.String("method", method), zap.String("path", path.String()), zap.Error(err))
		return fmt.Errorf("%w: %s %s: %v", docstore.ErrUnavailable, method, path.String(), err)
	}
	defer response.Body.Close()

	if response.StatusCode != expected {
		statusErr := &StatusError{Method: method, Path: path.String(), StatusCode: response.StatusCode, Code: errorCode(response.Body)}
		c.logger.Debug("document request returned error status", zap.Int("status", response.StatusCode), zap.String("path", path.String()))
		return statusErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", docstore.ErrUnavailable, method, path.String(), err)
	}
	return nil
}

func pathSegments(path docstore.Path) []string {
	segments := []string{"users", path.UserID, path.Collection}
	if path.DocumentID != "" {
		segments = append(segments, path.DocumentID)
	}
	return segments
}

func errorCode(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&payload); err != nil {
		return ""
	}
	return payload.Error
}
