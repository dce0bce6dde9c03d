package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structidx"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/postgres"
	"github.com/lib/pq"
)

const (
	statusKnown = "known"
	statusDirty = "dirty"
)

// PostgresRepository stores state in two tables:
//
//	CREATE TABLE motif_structures (
//	    id         TEXT PRIMARY KEY,
//	    status     TEXT NOT NULL CHECK (status IN ('known', 'dirty')),
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE TABLE motif_index_state (
//	    singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
//	    data      JSONB NOT NULL,
//	    saved_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PostgresRepository struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgresRepository(db *postgres.Client) *PostgresRepository {
	return &PostgresRepository{
		db:     db,
		logger: slog.Default().With("component", "state-postgres"),
	}
}

// Migrate creates the tables when missing.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS motif_structures (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL CHECK (status IN ('known', 'dirty')),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
			return fmt.Errorf("creating motif_structures: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS motif_index_state (
			singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
			data      JSONB NOT NULL,
			saved_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
			return fmt.Errorf("creating motif_index_state: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) Known(ctx context.Context) ([]string, error) {
	return r.list(ctx, statusKnown)
}

func (r *PostgresRepository) Dirty(ctx context.Context) ([]string, error) {
	return r.list(ctx, statusDirty)
}

func (r *PostgresRepository) list(ctx context.Context, status string) ([]string, error) {
	rows, err := r.db.DB.QueryContext(ctx,
		`SELECT id FROM motif_structures WHERE status = $1 ORDER BY id`, status)
	if err != nil {
		return nil, fmt.Errorf("listing %s structures: %w", status, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning structure row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) MarkDirty(ctx context.Context, ids []string) error {
	return r.setStatus(ctx, ids, statusDirty)
}

func (r *PostgresRepository) MarkKnown(ctx context.Context, ids []string) error {
	return r.setStatus(ctx, ids, statusKnown)
}

func (r *PostgresRepository) setStatus(ctx context.Context, ids []string, status string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO motif_structures (id, status, updated_at)
			SELECT unnest($1::text[]), $2, $3
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
			pq.Array(ids), status, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("marking %d structures %s: %w", len(ids), status, err)
		}
		return nil
	})
}

func (r *PostgresRepository) Forget(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM motif_structures WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
			return fmt.Errorf("forgetting %d structures: %w", len(ids), err)
		}
		return nil
	})
}

func (r *PostgresRepository) LoadIndexState(ctx context.Context) (structidx.Snapshot, bool, error) {
	var data []byte
	err := r.db.DB.QueryRowContext(ctx,
		`SELECT data FROM motif_index_state WHERE singleton`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return structidx.Snapshot{}, false, nil
	}
	if err != nil {
		return structidx.Snapshot{}, false, fmt.Errorf("loading index state: %w", err)
	}
	var s structidx.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return structidx.Snapshot{}, false, fmt.Errorf("decoding index state: %w", err)
	}
	return s, true, nil
}

func (r *PostgresRepository) SaveIndexState(ctx context.Context, s structidx.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding index state: %w", err)
	}
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO motif_index_state (singleton, data, saved_at) VALUES (TRUE, $1, $2)
			ON CONFLICT (singleton) DO UPDATE SET data = EXCLUDED.data, saved_at = EXCLUDED.saved_at`,
			data, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("saving index state: %w", err)
		}
		r.logger.Debug("index state saved", "next", s.Next, "assigned", len(s.Assigned))
		return nil
	})
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
