// Package registry implements the name-keyed, per-kind stores of
// spec.md §4.11: Agents, Flows, Fleets, Triggers, Contexts, Bindings,
// each loaded from a directory of YAML files. Grounded on the teacher's
// internal/config.Loader for directory walking and $include/env-var
// expansion, generalized from "one Config struct" to "any
// aoftypes.Resource kind" via a generic Registry[T].
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

// Registry is a read-mostly, name-keyed store for one declarative
// resource kind. Reads never block on other reads; writes (Register,
// LoadDirectory, Reload) are serialized behind one mutex, matching
// spec.md §5's "shared-read, single-writer during load/reload" policy.
type Registry[T aoftypes.Resource] struct {
	newItem func() T
	logger  *slog.Logger

	mu    sync.RWMutex
	items map[string]T
}

// New returns an empty Registry. newItem must return a freshly
// allocated, zero-valued T (e.g. func() *aoftypes.Agent { return new(aoftypes.Agent) }),
// used to decode each YAML document during LoadDirectory.
func New[T aoftypes.Resource](newItem func() T) *Registry[T] {
	return &Registry[T]{
		newItem: newItem,
		logger:  slog.Default(),
		items:   make(map[string]T),
	}
}

// Register validates item and stores it under its metadata name,
// replacing any existing entry with the same name.
func (r *Registry[T]) Register(item T) error {
	if err := item.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.GetMetadata().Name] = item
	return nil
}

// Get returns the item named name, if registered.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[name]
	return item, ok
}

// GetAll returns every registered item. Order is unspecified; callers
// that need declaration order (e.g. triggerrouter) should sort by a
// field they control, or load bindings from a single ordered file.
func (r *Registry[T]) GetAll() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	return out
}

// Exists reports whether name is registered.
func (r *Registry[T]) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[name]
	return ok
}

// Count returns the number of registered items.
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// LoadDirectory parses every *.yaml/*.yml file directly under dir (non-
// recursive, matching spec.md's directory-of-resources model), resolves
// $include and ${VAR} directives, decodes each into T, and registers it
// if Validate succeeds. Invalid files are logged and skipped; they do
// not fail the load, per spec.md §4.11.
func (r *Registry[T]) LoadDirectory(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("registry: read directory %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		raw, err := loadRawRecursive(path, map[string]bool{})
		if err != nil {
			r.logger.Warn("registry: skipping file", "path", path, "error", err)
			continue
		}

		item, err := decode(raw, r.newItem)
		if err != nil {
			r.logger.Warn("registry: skipping invalid resource", "path", path, "error", err)
			continue
		}
		if err := item.Validate(); err != nil {
			r.logger.Warn("registry: skipping invalid resource", "path", path, "error", err)
			continue
		}

		r.mu.Lock()
		r.items[item.GetMetadata().Name] = item
		r.mu.Unlock()
		loaded++
	}

	return loaded, nil
}

// Reload clears the registry and loads dir fresh. It is not atomic with
// respect to concurrent readers: a reader may briefly observe an empty
// registry mid-reload, matching the documented single-writer contract.
func (r *Registry[T]) Reload(dir string) (int, error) {
	r.mu.Lock()
	r.items = make(map[string]T)
	r.mu.Unlock()
	return r.LoadDirectory(dir)
}

func decode[T aoftypes.Resource](raw map[string]any, newItem func() T) (T, error) {
	item := newItem()

	payload, err := yaml.Marshal(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("registry: re-marshal resource: %w", err)
	}
	if err := yaml.Unmarshal(payload, item); err != nil {
		var zero T
		return zero, fmt.Errorf("registry: decode resource: %w", err)
	}
	return item, nil
}
