package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stafflinehq/staffline/internal/record"
	"github.com/stafflinehq/staffline/internal/session"
)

type staticSession struct {
	token string
	err   error
}

func (s *staticSession) SessionToken(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

func testCollectionIDs() map[record.Collection]string {
	ids := make(map[record.Collection]string)
	for _, collection := range record.Collections() {
		ids[collection] = collection.String()
	}
	return ids
}

func newTestAdapter(t *testing.T, server *httptest.Server, sessions session.Provider) *HTTPAdapter {
	t.Helper()
	if sessions == nil {
		sessions = &staticSession{token: "session-token"}
	}
	adapter, err := NewHTTPAdapter(HTTPAdapterConfig{
		Endpoint:      server.URL,
		ProjectID:     "proj-1",
		DatabaseID:    "db-1",
		CollectionIDs: testCollectionIDs(),
		Sessions:      sessions,
		HTTPClient:    server.Client(),
		RetryAttempts: 2,
	})
	if err != nil {
		t.Fatalf("unexpected adapter error: %v", err)
	}
	return adapter
}

func mustDocumentID(t *testing.T, value string) record.DocumentID {
	t.Helper()
	id, err := record.NewDocumentID(value)
	if err != nil {
		t.Fatalf("unexpected id error: %v", err)
	}
	return id
}

func TestCreateSendsDocumentAndHeaders(t *testing.T) {
	var captured struct {
		method  string
		path    string
		project string
		session string
		body    map[string]any
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.project = r.Header.Get("X-Staffline-Project")
		captured.session = r.Header.Get("X-Staffline-Session")
		json.NewDecoder(r.Body).Decode(&captured.body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server, nil)
	outcome, err := adapter.Create(context.Background(), record.CollectionEmployees, mustDocumentID(t, "emp-1"), record.Record{"name": "Ada"})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if outcome != WroteCreated {
		t.Fatalf("expected WroteCreated, got %v", outcome)
	}
	if captured.method != http.MethodPost {
		t.Fatalf("expected POST, got %s", captured.method)
	}
	if captured.path != "/databases/db-1/collections/employees/documents" {
		t.Fatalf("unexpected path %q", captured.path)
	}
	if captured.project != "proj-1" || captured.session != "session-token" {
		t.Fatalf("missing auth headers: %+v", captured)
	}
	if captured.body["documentId"] != "emp-1" {
		t.Fatalf("expected documentId in body, got %v", captured.body)
	}
}

func TestCreateFallsThroughToUpdateOnConflict(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"message":"document already exists"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server, nil)
	outcome, err := adapter.Create(context.Background(), record.CollectionCases, mustDocumentID(t, "case-1"), record.Record{"title": "Audit"})
	if err != nil {
		t.Fatalf("expected idempotent upsert, got %v", err)
	}
	if outcome != WroteUpdated {
		t.Fatalf("expected WroteUpdated after fallthrough, got %v", outcome)
	}
	if len(methods) != 2 || methods[0] != http.MethodPost || methods[1] != http.MethodPatch {
		t.Fatalf("expected POST then PATCH, got %v", methods)
	}
}

func TestUpdateMissingDocumentReportsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"no such document"}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server, nil)
	_, err := adapter.Update(context.Background(), record.CollectionCases, mustDocumentID(t, "case-9"), record.Record{"title": "Gone"})
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestDeleteMissingDocumentSucceeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server, nil)
	if err := adapter.Delete(context.Background(), record.CollectionExpenses, mustDocumentID(t, "exp-1")); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
}

func TestMutationWithoutSessionFailsBeforeCall(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server, &staticSession{err: session.ErrNoSession})
	_, err := adapter.Create(context.Background(), record.CollectionEmployees, mustDocumentID(t, "emp-1"), record.Record{})
	if KindOf(err) != KindUnauthorized {
		t.Fatalf("expected KindUnauthorized, got %v", err)
	}
	if called {
		t.Fatalf("no request should reach the server without a session")
	}
}

func TestListParsesDocuments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "100" {
			t.Errorf("expected bounded page size, got %q", r.URL.Query().Get("limit"))
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"total": 2,
			"documents": [
				{"$id": "emp-1", "$updatedAt": "2026-04-02T08:30:00.000Z", "name": "Ada", "deviceId": "kiosk-1"},
				{"$id": "emp-2", "$updatedAt": "2026-04-02T09:00:00.000Z", "name": "Grace"}
			]
		}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server, nil)
	documents, err := adapter.List(context.Background(), record.CollectionEmployees, 0)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(documents) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(documents))
	}
	if documents[0].ID.String() != "emp-1" {
		t.Fatalf("unexpected id %q", documents[0].ID)
	}
	if documents[0].Data["name"] != "Ada" {
		t.Fatalf("expected data fields to survive, got %v", documents[0].Data)
	}
	if _, ok := documents[0].Data["$id"]; ok {
		t.Fatalf("store metadata must not leak into data")
	}
	expected := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	if !documents[0].UpdatedAt.Equal(expected) {
		t.Fatalf("expected %v, got %v", expected, documents[0].UpdatedAt)
	}
}

func TestTransportRetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server, nil)
	if _, err := adapter.Create(context.Background(), record.CollectionEmployees, mustDocumentID(t, "emp-1"), record.Record{}); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRejectedPayloadIsNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"unknown field"}`))
	}))
	defer server.Close()

	adapter := newTestAdapter(t, server, nil)
	_, err := adapter.Create(context.Background(), record.CollectionEmployees, mustDocumentID(t, "emp-1"), record.Record{})
	if KindOf(err) != KindRejected {
		t.Fatalf("expected KindRejected, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("rejections must not burn the retry budget, got %d attempts", attempts)
	}

	var remoteErr *Error
	if !errors.As(err, &remoteErr) || remoteErr.Message != "unknown field" {
		t.Fatalf("expected server message to surface, got %v", err)
	}
}

func TestNewHTTPAdapterRequiresCollectionMappings(t *testing.T) {
	ids := testCollectionIDs()
	delete(ids, record.CollectionAttendance)
	_, err := NewHTTPAdapter(HTTPAdapterConfig{
		Endpoint:      "https://records.example.com",
		ProjectID:     "proj-1",
		DatabaseID:    "db-1",
		CollectionIDs: ids,
		Sessions:      &staticSession{token: "x"},
	})
	if err == nil {
		t.Fatalf("expected missing collection mapping to fail")
	}
}
