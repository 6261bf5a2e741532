package remote

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

	"github.com/stafflinehq/staffline/internal/record"
	"github.com/stafflinehq/staffline/internal/session"
	"go.uber.org/zap"
)

const (
	// MaxPageSize bounds a single List call. Callers needing more must page
	// explicitly.
	MaxPageSize = 100

	defaultTimeout       = 30 * time.Second
	defaultRetryAttempts = 3

	headerProject = "X-Staffline-Project"
	headerSession = "X-Staffline-Session"
)

// WriteOutcome tags the result of a remote write.
type WriteOutcome int

const (
	// WroteCreated indicates a new remote document.
	WroteCreated WriteOutcome = iota
	// WroteUpdated indicates an existing remote document was replaced.
	WroteUpdated
)

// Document is a remote record together with its store metadata.
type Document struct {
	ID        record.DocumentID
	UpdatedAt time.Time
	Data      record.Record
}

// Adapter is the thin interface over the remote document store.
type Adapter interface {
	Create(ctx context.Context, collection record.Collection, id record.DocumentID, payload record.Record) (WriteOutcome, error)
	Update(ctx context.Context, collection record.Collection, id record.DocumentID, payload record.Record) (WriteOutcome, error)
	Delete(ctx context.Context, collection record.Collection, id record.DocumentID) error
	List(ctx context.Context, collection record.Collection, limit int) ([]Document, error)
}

var (
	errMissingEndpoint   = errors.New("remote: endpoint is required")
	errMissingProject    = errors.New("remote: project id is required")
	errMissingDatabase   = errors.New("remote: database id is required")
	errMissingSessions   = errors.New("remote: session provider is required")
	errMissingCollection = errors.New("remote: collection mapping is required")
)

// HTTPAdapterConfig configures the document store client.
type HTTPAdapterConfig struct {
	Endpoint      string
	ProjectID     string
	DatabaseID    string
	CollectionIDs map[record.Collection]string
	Sessions      session.Provider
	HTTPClient    *http.Client
	RetryAttempts int
	Logger        *zap.Logger
}

// HTTPAdapter talks to the remote document store over its REST surface. Every
// call requires a present session; transport failures are retried up to the
// configured attempt budget, independent of the mutation-level retry ceiling
// owned by the pending queue.
type HTTPAdapter struct {
	endpoint      string
	projectID     string
	databaseID    string
	collectionIDs map[record.Collection]string
	sessions      session.Provider
	httpClient    *http.Client
	retryAttempts int
	logger        *zap.Logger
}

// NewHTTPAdapter validates the configuration and constructs the adapter.
func NewHTTPAdapter(cfg HTTPAdapterConfig) (*HTTPAdapter, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errMissingEndpoint
	}
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errMissingProject
	}
	if strings.TrimSpace(cfg.DatabaseID) == "" {
		return nil, errMissingDatabase
	}
	if cfg.Sessions == nil {
		return nil, errMissingSessions
	}

	collectionIDs := make(map[record.Collection]string, len(record.Collections()))
	for _, collection := range record.Collections() {
		mapped := strings.TrimSpace(cfg.CollectionIDs[collection])
		if mapped == "" {
			return nil, fmt.Errorf("%w: %s", errMissingCollection, collection)
		}
		collectionIDs[collection] = mapped
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	retryAttempts := cfg.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = defaultRetryAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPAdapter{
		endpoint:      endpoint,
		projectID:     strings.TrimSpace(cfg.ProjectID),
		databaseID:    strings.TrimSpace(cfg.DatabaseID),
		collectionIDs: collectionIDs,
		sessions:      cfg.Sessions,
		httpClient:    httpClient,
		retryAttempts: retryAttempts,
		logger:        logger,
	}, nil
}

// Create inserts a document. A create that collides with an existing id falls
// through to Update, so replaying a queued create after the record already
// reached the store through another path stays idempotent.
func (a *HTTPAdapter) Create(ctx context.Context, collection record.Collection, id record.DocumentID, payload record.Record) (WriteOutcome, error) {
	body := map[string]any{"documentId": id.String(), "data": payload}
	_, err := a.call(ctx, http.MethodPost, a.documentsPath(collection), body)
	if err == nil {
		return WroteCreated, nil
	}
	if KindOf(err) == KindAlreadyExists {
		return a.Update(ctx, collection, id, payload)
	}
	return 0, err
}

// Update replaces an existing document's data.
func (a *HTTPAdapter) Update(ctx context.Context, collection record.Collection, id record.DocumentID, payload record.Record) (WriteOutcome, error) {
	body := map[string]any{"data": payload}
	_, err := a.call(ctx, http.MethodPatch, a.documentPath(collection, id), body)
	if err != nil {
		return 0, err
	}
	return WroteUpdated, nil
}

// Delete removes a document. Deleting an already-absent document succeeds so
// replayed tombstones stay idempotent.
func (a *HTTPAdapter) Delete(ctx context.Context, collection record.Collection, id record.DocumentID) error {
	_, err := a.call(ctx, http.MethodDelete, a.documentPath(collection, id), nil)
	if err != nil && KindOf(err) == KindNotFound {
		return nil
	}
	return err
}

type listResponse struct {
	Total     int              `json:"total"`
	Documents []map[string]any `json:"documents"`
}

// List fetches up to limit documents from the collection, bounded by
// MaxPageSize.
func (a *HTTPAdapter) List(ctx context.Context, collection record.Collection, limit int) ([]Document, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	path := fmt.Sprintf("%s?limit=%d", a.documentsPath(collection), limit)
	raw, err := a.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var parsed listResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Error{Kind: KindRejected, Message: fmt.Sprintf("malformed list response: %v", err)}
	}

	documents := make([]Document, 0, len(parsed.Documents))
	for _, entry := range parsed.Documents {
		document, ok := parseDocument(entry)
		if !ok {
			continue
		}
		documents = append(documents, document)
	}
	return documents, nil
}

func parseDocument(entry map[string]any) (Document, bool) {
	rawID, _ := entry[record.FieldLocalID].(string)
	id, err := record.NewDocumentID(rawID)
	if err != nil {
		return Document{}, false
	}

	data := record.Record{}
	for name, value := range entry {
		if strings.HasPrefix(name, "$") {
			continue
		}
		data[name] = value
	}

	updatedAt := time.Time{}
	if rawUpdated, ok := entry["$updatedAt"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, rawUpdated); err == nil {
			updatedAt = parsed
		}
	}

	return Document{ID: id, UpdatedAt: updatedAt, Data: data}, true
}

func (a *HTTPAdapter) documentsPath(collection record.Collection) string {
	return fmt.Sprintf("/databases/%s/collections/%s/documents",
		url.PathEscape(a.databaseID), url.PathEscape(a.collectionIDs[collection]))
}

func (a *HTTPAdapter) documentPath(collection record.Collection, id record.DocumentID) string {
	return fmt.Sprintf("%s/%s", a.documentsPath(collection), url.PathEscape(id.String()))
}

// call performs one logical request with the transport retry budget applied to
// network-kind failures.
func (a *HTTPAdapter) call(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	token, err := a.sessions.SessionToken(ctx)
	if err != nil {
		return nil, &Error{Kind: KindUnauthorized, Message: err.Error()}
	}

	var encoded []byte
	if body != nil {
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: KindRejected, Message: fmt.Sprintf("encode payload: %v", err)}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= a.retryAttempts; attempt++ {
		raw, err := a.roundTrip(ctx, method, path, encoded, token)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if KindOf(err) != KindNetwork {
			return nil, err
		}
		a.logger.Debug("remote call retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, &Error{Kind: KindNetwork, Message: ctx.Err().Error()}
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	return nil, lastErr
}

func (a *HTTPAdapter) roundTrip(ctx context.Context, method, path string, body []byte, token string) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, a.endpoint+path, reader)
	if err != nil {
		return nil, &Error{Kind: KindRejected, Message: err.Error()}
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(headerProject, a.projectID)
	request.Header.Set(headerSession, token)

	response, err := a.httpClient.Do(request)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: err.Error()}
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return raw, nil
	}
	return nil, statusError(response.StatusCode, raw)
}

func statusError(statusCode int, body []byte) *Error {
	message := strings.TrimSpace(string(body))
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		message = parsed.Message
	}

	kind := KindRejected
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kind = KindUnauthorized
	case statusCode == http.StatusNotFound:
		kind = KindNotFound
	case statusCode == http.StatusConflict:
		kind = KindAlreadyExists
	case statusCode >= 500:
		kind = KindNetwork
	}
	return &Error{Kind: kind, StatusCode: statusCode, Message: message}
}
