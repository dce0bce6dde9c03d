package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structidx"
)

type fileState struct {
	Known []string            `json:"known"`
	Dirty []string            `json:"dirty"`
	Index *structidx.Snapshot `json:"index,omitempty"`
}

// FileRepository keeps state in one JSON document, rewritten through a temp
// file and rename on every change.
type FileRepository struct {
	mu     sync.Mutex
	path   string
	known  map[string]struct{}
	dirty  map[string]struct{}
	index  *structidx.Snapshot
	logger *slog.Logger
}

func NewFileRepository(path string) (*FileRepository, error) {
	r := &FileRepository{
		path:   path,
		known:  make(map[string]struct{}),
		dirty:  make(map[string]struct{}),
		logger: slog.Default().With("component", "state-file"),
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	for _, id := range st.Known {
		r.known[id] = struct{}{}
	}
	for _, id := range st.Dirty {
		delete(r.known, id)
		r.dirty[id] = struct{}{}
	}
	r.index = st.Index
	r.logger.Info("state loaded", "path", path, "known", len(r.known), "dirty", len(r.dirty))
	return r, nil
}

func (r *FileRepository) Known(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.known), nil
}

func (r *FileRepository) Dirty(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.dirty), nil
}

func (r *FileRepository) MarkDirty(ctx context.Context, ids []string) error {
	return r.mutate(func() {
		for _, id := range ids {
			delete(r.known, id)
			r.dirty[id] = struct{}{}
		}
	})
}

func (r *FileRepository) MarkKnown(ctx context.Context, ids []string) error {
	return r.mutate(func() {
		for _, id := range ids {
			delete(r.dirty, id)
			r.known[id] = struct{}{}
		}
	})
}

func (r *FileRepository) Forget(ctx context.Context, ids []string) error {
	return r.mutate(func() {
		for _, id := range ids {
			delete(r.dirty, id)
			delete(r.known, id)
		}
	})
}

func (r *FileRepository) LoadIndexState(ctx context.Context) (structidx.Snapshot, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index == nil {
		return structidx.Snapshot{}, false, nil
	}
	return *r.index, true, nil
}

func (r *FileRepository) SaveIndexState(ctx context.Context, s structidx.Snapshot) error {
	return r.mutate(func() { r.index = &s })
}

func (r *FileRepository) Close() error { return nil }

// mutate applies fn and persists the result. On a failed write the in-memory
// state is rolled back so it keeps matching the file.
func (r *FileRepository) mutate(fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	known, dirty, index := cloneSet(r.known), cloneSet(r.dirty), r.index
	fn()
	if err := r.persist(); err != nil {
		r.known, r.dirty, r.index = known, dirty, index
		return err
	}
	return nil
}

func (r *FileRepository) persist() error {
	data, err := json.MarshalIndent(fileState{
		Known: sortedKeys(r.known),
		Dirty: sortedKeys(r.dirty),
		Index: r.index,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating state directory: %w", err)
		}
	}
	tmp := r.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating state temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing state: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing state: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing state temp file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("installing state file: %w", err)
	}
	return nil
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}
