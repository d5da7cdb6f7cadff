package memorystore

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestMemoryStoreAndRetrieve(t *testing.T) {
	m := New(Config{})
	err := m.Store(aoftypes.MemoryEntry{Key: "a", Value: rawString("1")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := m.Retrieve("a")
	if !ok {
		t.Fatal("expected to find key a")
	}
	if string(got.Value) != `"1"` {
		t.Fatalf("unexpected value: %s", got.Value)
	}
}

func TestMemoryRetrieveExpiredEntryIsRemoved(t *testing.T) {
	m := New(Config{})
	ttl := time.Minute
	m.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	_ = m.Store(aoftypes.MemoryEntry{Key: "a", Value: rawString("1"), CreatedAt: m.now(), TTL: &ttl})

	m.now = func() time.Time { return time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC) }
	if _, ok := m.Retrieve("a"); ok {
		t.Fatal("expected expired entry to be absent")
	}
	if len(m.entries) != 0 {
		t.Fatal("expected expired entry to be removed from the map")
	}
}

func TestMemoryDeleteAndClear(t *testing.T) {
	m := New(Config{})
	_ = m.Store(aoftypes.MemoryEntry{Key: "a", Value: rawString("1")})
	_ = m.Store(aoftypes.MemoryEntry{Key: "b", Value: rawString("2")})

	if err := m.Delete("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m.Retrieve("a"); ok {
		t.Fatal("expected a to be deleted")
	}

	if err := m.Clear(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.ListKeys("")) != 0 {
		t.Fatal("expected store to be empty after Clear")
	}
}

func TestMemoryListKeysFiltersByPrefix(t *testing.T) {
	m := New(Config{})
	_ = m.Store(aoftypes.MemoryEntry{Key: "task:1", Value: rawString("x")})
	_ = m.Store(aoftypes.MemoryEntry{Key: "task:2", Value: rawString("x")})
	_ = m.Store(aoftypes.MemoryEntry{Key: "note:1", Value: rawString("x")})

	keys := m.ListKeys("task:")
	if len(keys) != 2 {
		t.Fatalf("expected 2 task keys, got %v", keys)
	}
}

func TestMemoryTrimsOldestOnWrite(t *testing.T) {
	m := New(Config{MaxEntries: 2})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = m.Store(aoftypes.MemoryEntry{Key: "old", Value: rawString("1"), CreatedAt: base})
	_ = m.Store(aoftypes.MemoryEntry{Key: "mid", Value: rawString("1"), CreatedAt: base.Add(time.Minute)})
	_ = m.Store(aoftypes.MemoryEntry{Key: "new", Value: rawString("1"), CreatedAt: base.Add(2 * time.Minute)})

	if _, ok := m.Retrieve("old"); ok {
		t.Fatal("expected oldest entry to be trimmed")
	}
	if _, ok := m.Retrieve("mid"); !ok {
		t.Fatal("expected mid entry to survive trim")
	}
	if _, ok := m.Retrieve("new"); !ok {
		t.Fatal("expected newest entry to survive trim")
	}
}

func TestMemorySearchFiltersAndOrders(t *testing.T) {
	m := New(Config{})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = m.Store(aoftypes.MemoryEntry{Key: "a", Value: rawString("1"), CreatedAt: base, Tags: []string{"incident"}})
	_ = m.Store(aoftypes.MemoryEntry{Key: "b", Value: rawString("1"), CreatedAt: base.Add(time.Hour), Tags: []string{"incident", "urgent"}})
	_ = m.Store(aoftypes.MemoryEntry{Key: "c", Value: rawString("1"), CreatedAt: base.Add(2 * time.Hour), Tags: []string{"note"}})

	results := m.Search(Query{Tags: []string{"incident"}})
	if len(results) != 2 {
		t.Fatalf("expected 2 incident entries, got %d", len(results))
	}
	if results[0].Key != "b" {
		t.Fatalf("expected newest-first order, got %q first", results[0].Key)
	}

	limited := m.Search(Query{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("expected limit to bound results, got %d", len(limited))
	}
}

func TestFileBackendPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.json")

	f, err := OpenFile(path, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.Store(aoftypes.MemoryEntry{Key: "a", Value: rawString("1"), CreatedAt: time.Now()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopened, err := OpenFile(path, Config{})
	if err != nil {
		t.Fatalf("unexpected error reopening: %v", err)
	}
	got, ok := reopened.Retrieve("a")
	if !ok {
		t.Fatal("expected entry to survive reopen")
	}
	if string(got.Value) != `"1"` {
		t.Fatalf("unexpected value after reopen: %s", got.Value)
	}
}

func TestFileBackendTrimsOnLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.json")

	f, err := OpenFile(path, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = f.Store(aoftypes.MemoryEntry{Key: "old", Value: rawString("1"), CreatedAt: base})
	_ = f.Store(aoftypes.MemoryEntry{Key: "new", Value: rawString("1"), CreatedAt: base.Add(time.Hour)})

	reopened, err := OpenFile(path, Config{MaxEntries: 1})
	if err != nil {
		t.Fatalf("unexpected error reopening: %v", err)
	}
	if _, ok := reopened.Retrieve("old"); ok {
		t.Fatal("expected oldest entry to be trimmed on load")
	}
	if _, ok := reopened.Retrieve("new"); !ok {
		t.Fatal("expected newest entry to survive load trim")
	}
}
