package flowengine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

// Checkpoint is the resumable snapshot of one in-flight flow run.
type Checkpoint struct {
	FlowName         string    `json:"flow_name"`
	RunID            string    `json:"run_id"`
	State            State     `json:"state"`
	CompletedNodeIDs []string  `json:"completed_node_ids"`
	PendingBranches  []string  `json:"pending_branches,omitempty"`
	NextNodeID       string    `json:"next_node_id,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CheckpointStore persists and recovers run checkpoints.
type CheckpointStore interface {
	Save(cp Checkpoint) error
	Load(flowName, runID string) (Checkpoint, bool, error)
	Delete(flowName, runID string) error
	ListUnfinished() ([]Checkpoint, error)
}

// shouldCheckpoint reports whether cfg calls for a checkpoint after a
// node completing with changed being whether this node's write changed
// state, per Frequency: step|change|interval. interval is treated as
// step here — a wall-clock interval sweep is a collaborator concern
// (a ticker the caller who owns the run loop would drive), not something
// the per-node checkpoint hook can evaluate on its own.
func shouldCheckpoint(cfg *aoftypes.CheckpointConfig, changed bool) bool {
	if cfg == nil || !cfg.Enabled {
		return false
	}
	switch cfg.Frequency {
	case aoftypes.CheckpointOnChange:
		return changed
	default:
		return true
	}
}

// FileCheckpointStore persists one JSON file per run under a directory.
type FileCheckpointStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileCheckpointStore returns a CheckpointStore rooted at dir.
func NewFileCheckpointStore(dir string) *FileCheckpointStore {
	return &FileCheckpointStore{dir: dir}
}

func (f *FileCheckpointStore) path(flowName, runID string) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s_%s.json", flowName, runID))
}

func (f *FileCheckpointStore) Save(cp Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("flowengine: create checkpoint dir: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("flowengine: encode checkpoint: %w", err)
	}
	path := f.path(cp.FlowName, cp.RunID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("flowengine: write checkpoint: %w", err)
	}
	return os.Rename(tmp, path)
}

func (f *FileCheckpointStore) Load(flowName, runID string) (Checkpoint, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(flowName, runID))
	if os.IsNotExist(err) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("flowengine: read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("flowengine: decode checkpoint: %w", err)
	}
	return cp, true, nil
}

func (f *FileCheckpointStore) Delete(flowName, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(flowName, runID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("flowengine: delete checkpoint: %w", err)
	}
	return nil
}

func (f *FileCheckpointStore) ListUnfinished() ([]Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("flowengine: list checkpoints: %w", err)
	}

	out := make([]Checkpoint, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, e.Name()))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}
