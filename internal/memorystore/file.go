package memorystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

// File is a Store backed by a single JSON document on disk, keyed
// key→MemoryEntry. Every mutating call persists synchronously before
// returning.
type File struct {
	mu   sync.Mutex
	path string
	mem  *Memory
}

// OpenFile loads path (if it exists) into an in-memory map bounded by
// cfg.MaxEntries, trimming oldest-by-created_at on load, and returns a
// File backend that mirrors every write back to path.
func OpenFile(path string, cfg Config) (*File, error) {
	mem := New(cfg)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var entries map[string]aoftypes.MemoryEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("memorystore: decode %s: %w", path, err)
		}
		for _, e := range entries {
			mem.entries[e.Key] = e
		}
		mem.trimLocked()
	case os.IsNotExist(err):
		// first use; persisted on first write
	default:
		return nil, fmt.Errorf("memorystore: read %s: %w", path, err)
	}

	return &File{path: path, mem: mem}, nil
}

func (f *File) Store(entry aoftypes.MemoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.mem.Store(entry); err != nil {
		return err
	}
	return f.persistLocked()
}

func (f *File) Retrieve(key string) (aoftypes.MemoryEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.mem.Retrieve(key)
	if !ok {
		// Retrieve may have lazily evicted an expired entry; reflect that.
		_ = f.persistLocked()
	}
	return entry, ok
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.mem.Delete(key); err != nil {
		return err
	}
	return f.persistLocked()
}

func (f *File) ListKeys(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	before := len(f.mem.entries)
	keys := f.mem.ListKeys(prefix)
	if len(f.mem.entries) != before {
		_ = f.persistLocked()
	}
	return keys
}

func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.mem.Clear(); err != nil {
		return err
	}
	return f.persistLocked()
}

func (f *File) Search(q Query) []aoftypes.MemoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	before := len(f.mem.entries)
	results := f.mem.Search(q)
	if len(f.mem.entries) != before {
		_ = f.persistLocked()
	}
	return results
}

// persistLocked writes the full entry map to f.path. Caller must hold f.mu.
func (f *File) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("memorystore: create dir for %s: %w", f.path, err)
	}

	data, err := json.MarshalIndent(f.mem.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("memorystore: encode %s: %w", f.path, err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("memorystore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("memorystore: rename %s: %w", tmp, err)
	}
	return nil
}
