package engine

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stafflinehq/staffline/internal/cache"
	"github.com/stafflinehq/staffline/internal/device"
	"github.com/stafflinehq/staffline/internal/queue"
	"github.com/stafflinehq/staffline/internal/record"
	"github.com/stafflinehq/staffline/internal/remote"
)

// fakeRemote mimics the remote store adapter in memory, including the
// idempotent-upsert create and not-found update semantics of the HTTP
// adapter.
type fakeRemote struct {
	mu        sync.Mutex
	documents map[record.Collection]map[string]record.Record
	updatedAt map[record.Collection]map[string]time.Time
	failWith  *remote.Error
	clock     func() time.Time

	createCalls int
	updateCalls int
	deleteCalls int
}

func newFakeRemote(clock func() time.Time) *fakeRemote {
	return &fakeRemote{
		documents: make(map[record.Collection]map[string]record.Record),
		updatedAt: make(map[record.Collection]map[string]time.Time),
		clock:     clock,
	}
}

func (f *fakeRemote) setOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offline {
		f.failWith = &remote.Error{Kind: remote.KindNetwork, Message: "connection refused"}
	} else {
		f.failWith = nil
	}
}

func (f *fakeRemote) failAll(kind remote.ErrorKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = &remote.Error{Kind: kind, Message: "forced failure"}
}

func (f *fakeRemote) put(collection record.Collection, id string, data record.Record, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure(collection)
	f.documents[collection][id] = data.Clone()
	f.updatedAt[collection][id] = at
}

func (f *fakeRemote) get(collection record.Collection, id string) (record.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.documents[collection][id]
	return data, ok
}

func (f *fakeRemote) count(collection record.Collection) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.documents[collection])
}

func (f *fakeRemote) ensure(collection record.Collection) {
	if f.documents[collection] == nil {
		f.documents[collection] = make(map[string]record.Record)
		f.updatedAt[collection] = make(map[string]time.Time)
	}
}

func (f *fakeRemote) Create(ctx context.Context, collection record.Collection, id record.DocumentID, payload record.Record) (remote.WriteOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.ensure(collection)
	_, existed := f.documents[collection][id.String()]
	f.documents[collection][id.String()] = payload.Clone()
	f.updatedAt[collection][id.String()] = f.clock()
	if existed {
		return remote.WroteUpdated, nil
	}
	return remote.WroteCreated, nil
}

func (f *fakeRemote) Update(ctx context.Context, collection record.Collection, id record.DocumentID, payload record.Record) (remote.WriteOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.failWith != nil {
		return 0, f.failWith
	}
	f.ensure(collection)
	if _, ok := f.documents[collection][id.String()]; !ok {
		return 0, &remote.Error{Kind: remote.KindNotFound, Message: "no such document"}
	}
	f.documents[collection][id.String()] = payload.Clone()
	f.updatedAt[collection][id.String()] = f.clock()
	return remote.WroteUpdated, nil
}

func (f *fakeRemote) Delete(ctx context.Context, collection record.Collection, id record.DocumentID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.failWith != nil {
		return f.failWith
	}
	f.ensure(collection)
	delete(f.documents[collection], id.String())
	delete(f.updatedAt[collection], id.String())
	return nil
}

func (f *fakeRemote) List(ctx context.Context, collection record.Collection, limit int) ([]remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.ensure(collection)

	ids := make([]string, 0, len(f.documents[collection]))
	for id := range f.documents[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if limit <= 0 || limit > remote.MaxPageSize {
		limit = remote.MaxPageSize
	}
	documents := make([]remote.Document, 0, len(ids))
	for _, rawID := range ids {
		if len(documents) >= limit {
			break
		}
		id, err := record.NewDocumentID(rawID)
		if err != nil {
			continue
		}
		documents = append(documents, remote.Document{
			ID:        id,
			UpdatedAt: f.updatedAt[collection][rawID],
			Data:      f.documents[collection][rawID].Clone(),
		})
	}
	return documents, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testFixture struct {
	engine *Engine
	remote *fakeRemote
	store  cache.Store
	queue  *queue.Queue
	clock  *testClock
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	clock := newTestClock(time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC))

	db, err := cache.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"), nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	store, err := cache.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}

	identity, err := device.NewIdentity(device.IdentityConfig{
		Store: store,
		Clock: clock.Now,
		Label: func() (string, error) { return "test-kiosk", nil },
	})
	if err != nil {
		t.Fatalf("unexpected identity error: %v", err)
	}

	pending, err := queue.New(queue.Config{Store: store, IDs: record.NewUUIDProvider(), Clock: clock.Now})
	if err != nil {
		t.Fatalf("unexpected queue error: %v", err)
	}

	fake := newFakeRemote(clock.Now)

	syncEngine, err := New(Config{
		Cache:  store,
		Remote: fake,
		Queue:  pending,
		Device: identity,
		Clock:  clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected engine error: %v", err)
	}

	return &testFixture{
		engine: syncEngine,
		remote: fake,
		store:  store,
		queue:  pending,
		clock:  clock,
	}
}

func (f *testFixture) deviceID(t *testing.T) string {
	t.Helper()
	return f.engine.device.DeviceID(context.Background())
}

func (f *testFixture) queueDepth(t *testing.T) int {
	t.Helper()
	depth, err := f.queue.Depth(context.Background())
	if err != nil {
		t.Fatalf("unexpected depth error: %v", err)
	}
	return depth
}

func mustSave(t *testing.T, f *testFixture, input record.Record, collection record.Collection) record.Record {
	t.Helper()
	stored, err := f.engine.SaveData(context.Background(), input, collection)
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	return stored
}
