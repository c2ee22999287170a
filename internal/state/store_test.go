package state

import (
	"testing"
	"time"

	"grimm.is/podnet/internal/clock"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(DefaultOptions(":memory:"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestNewSQLiteStore tests store creation
func TestNewSQLiteStore(t *testing.T) {
	store := newTestStore(t)
	if store.CurrentVersion() != 0 {
		t.Errorf("expected version 0, got %d", store.CurrentVersion())
	}
}

// TestNewSQLiteStore_FileBackend tests that data survives a reopen
func TestNewSQLiteStore_FileBackend(t *testing.T) {
	path := t.TempDir() + "/state.db"

	store, err := NewSQLiteStore(DefaultOptions(path))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.CreateBucket("b"); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}
	if err := store.Set("b", "k", []byte("v")); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	store.Close()

	store2, err := NewSQLiteStore(DefaultOptions(path))
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store2.Close()

	got, err := store2.Get("b", "k")
	if err != nil || string(got) != "v" {
		t.Errorf("expected v, got %q (%v)", got, err)
	}
	if store2.CurrentVersion() != 1 {
		t.Errorf("expected version 1 after reopen, got %d", store2.CurrentVersion())
	}
}

// TestBucketOperations tests bucket creation and listing
func TestBucketOperations(t *testing.T) {
	store := newTestStore(t)

	if err := store.CreateBucket("test"); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}
	if err := store.CreateBucket("test"); err != ErrBucketExists {
		t.Errorf("expected ErrBucketExists, got %v", err)
	}

	buckets, err := store.ListBuckets()
	if err != nil {
		t.Fatalf("failed to list buckets: %v", err)
	}
	if len(buckets) != 1 || buckets[0] != "test" {
		t.Errorf("expected [test], got %v", buckets)
	}

	if err := store.Set("missing", "k", []byte("v")); err != ErrBucketMissing {
		t.Errorf("expected ErrBucketMissing, got %v", err)
	}
}

// TestKeyValueOperations tests get, set, delete and versioning
func TestKeyValueOperations(t *testing.T) {
	store := newTestStore(t)
	store.CreateBucket("test")

	if _, err := store.Get("test", "key1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.Set("test", "key1", []byte("value1")); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if err := store.Set("test", "key1", []byte("value2")); err != nil {
		t.Fatalf("failed to update: %v", err)
	}

	entry, err := store.GetWithMeta("test", "key1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if string(entry.Value) != "value2" {
		t.Errorf("expected value2, got %s", entry.Value)
	}
	if entry.Version != 2 {
		t.Errorf("expected version 2, got %d", entry.Version)
	}

	if err := store.Delete("test", "key1"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if err := store.Delete("test", "key1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if store.CurrentVersion() != 3 {
		t.Errorf("expected version 3, got %d", store.CurrentVersion())
	}
}

// TestListKeys tests key listing order
func TestListKeys(t *testing.T) {
	store := newTestStore(t)
	store.CreateBucket("test")
	for _, k := range []string{"c", "a", "b"} {
		store.Set("test", k, []byte(k))
	}

	keys, err := store.ListKeys("test")
	if err != nil {
		t.Fatalf("failed to list keys: %v", err)
	}
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Errorf("expected [a b c], got %v", keys)
	}
}

// TestJSONHelpers tests typed storage
func TestJSONHelpers(t *testing.T) {
	store := newTestStore(t)
	store.CreateBucket("test")

	type item struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := store.SetJSON("test", "item", item{Name: "x", Count: 3}); err != nil {
		t.Fatalf("failed to set JSON: %v", err)
	}

	var got item
	if err := store.GetJSON("test", "item", &got); err != nil {
		t.Fatalf("failed to get JSON: %v", err)
	}
	if got.Name != "x" || got.Count != 3 {
		t.Errorf("unexpected item %+v", got)
	}
}

// TestHistory tests the change log and the injected clock
func TestHistory(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clk := clock.NewMockClock(start)
	opts := DefaultOptions(":memory:")
	opts.Clock = clk

	store, err := NewSQLiteStore(opts)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()
	store.CreateBucket("test")

	store.Set("test", "k", []byte("1"))
	clk.Advance(time.Minute)
	store.Set("test", "k", []byte("2"))
	clk.Advance(time.Minute)
	store.Delete("test", "k")
	store.Set("test", "other", []byte("x"))

	changes, err := store.History("test", "k")
	if err != nil {
		t.Fatalf("failed to get history: %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	want := []ChangeType{ChangeInsert, ChangeUpdate, ChangeDelete}
	for i, c := range changes {
		if c.Type != want[i] {
			t.Errorf("change %d: expected %s, got %s", i, want[i], c.Type)
		}
	}
	if !changes[1].Timestamp.Equal(start.Add(time.Minute)) {
		t.Errorf("expected timestamp %v, got %v", start.Add(time.Minute), changes[1].Timestamp)
	}
}

// TestClosedStore tests operations after Close
func TestClosedStore(t *testing.T) {
	store, _ := NewSQLiteStore(DefaultOptions(":memory:"))
	store.Close()

	if err := store.CreateBucket("x"); err != ErrStoreClosed {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := store.Get("x", "k"); err != ErrStoreClosed {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second close should succeed, got %v", err)
	}
}
