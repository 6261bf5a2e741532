package cache

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"), nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	value := json.RawMessage(`{"name":"Ada"}`)
	if err := store.Set(ctx, "employees_e1", value); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}

	loaded, err := store.Get(ctx, "employees_e1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if string(loaded) != string(value) {
		t.Fatalf("expected %s, got %s", value, loaded)
	}
}

func TestSQLiteStoreSetReplacesPriorValue(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k", json.RawMessage(`{"v":1}`)); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	if err := store.Set(ctx, "k", json.RawMessage(`{"v":2}`)); err != nil {
		t.Fatalf("unexpected overwrite error: %v", err)
	}

	loaded, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if string(loaded) != `{"v":2}` {
		t.Fatalf("expected overwrite to win, got %s", loaded)
	}
}

func TestSQLiteStoreGetMissingKey(t *testing.T) {
	store := newSQLiteTestStore(t)
	if _, err := store.Get(context.Background(), "absent"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestSQLiteStoreDeleteIsIdempotent(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k", json.RawMessage(`1`)); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("second delete should succeed, got %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestSQLiteStoreListKeysOrdered(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"employees_b", "attendance_a", "employees_a"} {
		if err := store.Set(ctx, key, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("unexpected set error: %v", err)
		}
	}

	keys, err := store.ListKeys(ctx)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	expected := []string{"attendance_a", "employees_a", "employees_b"}
	if len(keys) != len(expected) {
		t.Fatalf("expected %d keys, got %d", len(expected), len(keys))
	}
	for i, key := range expected {
		if keys[i] != key {
			t.Fatalf("expected key %q at %d, got %q", key, i, keys[i])
		}
	}
}

func TestSQLiteStoreRejectsEmptyKey(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "", json.RawMessage(`{}`)); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey from Set, got %v", err)
	}
	if _, err := store.Get(ctx, ""); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey from Get, got %v", err)
	}
}
