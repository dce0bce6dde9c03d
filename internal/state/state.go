// Package state persists what the updater needs to survive a restart: which
// structures are fully indexed (known), which were being written when the
// process last stopped (dirty), and the structure-index provider snapshot.
package state

import (
	"context"
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structidx"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/postgres"
)

// Repository is the updater's view of persisted state. A structure is in at
// most one of the known and dirty sets.
type Repository interface {
	Known(ctx context.Context) ([]string, error)
	Dirty(ctx context.Context) ([]string, error)
	// MarkDirty adds ids to the dirty set, removing them from known.
	MarkDirty(ctx context.Context, ids []string) error
	// MarkKnown moves ids from dirty to known.
	MarkKnown(ctx context.Context, ids []string) error
	// Forget drops ids from both sets.
	Forget(ctx context.Context, ids []string) error
	LoadIndexState(ctx context.Context) (structidx.Snapshot, bool, error)
	SaveIndexState(ctx context.Context, s structidx.Snapshot) error
	Close() error
}

// Open builds the repository selected by cfg.Backend.
func Open(cfg config.StateConfig, pg config.PostgresConfig) (Repository, error) {
	switch cfg.Backend {
	case "file":
		return NewFileRepository(cfg.Path)
	case "postgres":
		client, err := postgres.New(pg)
		if err != nil {
			return nil, err
		}
		repo := NewPostgresRepository(client)
		if err := repo.Migrate(context.Background()); err != nil {
			client.Close()
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
