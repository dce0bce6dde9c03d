// Package updater applies ADD, REMOVE and recovery operations to the
// inverted index while keeping the structure-index provider and the state
// repository consistent with it across crashes.
//
// A structure is marked dirty before any of its data reaches the index and
// marked known only after the commit that contains it. Anything still dirty
// at startup is purged by Recover, together with indices the index
// references but no structure owns.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/state"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structidx"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structure"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/metrics"
	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
)

// Publisher receives an event after every successful update.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Invalidator drops search results computed against an older index.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Options struct {
	BatchSize int
	Workers   int
	Cutoff    float64
	Publisher Publisher
	Cache     Invalidator
	Metrics   *metrics.Metrics
}

// OptionsFromConfig maps the update and index sections of cfg.
func OptionsFromConfig(cfg *config.Config, m *metrics.Metrics) Options {
	return Options{
		BatchSize: cfg.Update.BatchSize,
		Workers:   cfg.Index.Workers,
		Cutoff:    cfg.Update.DistanceCutoff,
		Metrics:   m,
	}
}

// Updater serialises index writes. Searches may run concurrently with it.
type Updater struct {
	index    *index.InvertedIndex
	provider *structidx.Provider
	repo     state.Repository
	source   structure.Source
	builder  structure.GraphBuilder
	opts     Options
	mu       sync.Mutex
	logger   *slog.Logger
}

func New(ix *index.InvertedIndex, provider *structidx.Provider, repo state.Repository, source structure.Source, opts Options) *Updater {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 400
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Updater{
		index:    ix,
		provider: provider,
		repo:     repo,
		source:   source,
		builder:  structure.GraphBuilder{Cutoff: opts.Cutoff},
		opts:     opts,
		logger:   slog.Default().With("component", "updater"),
	}
}

// Report summarises one update.
type Report struct {
	Op          string        `json:"op"`
	Applied     []string      `json:"applied"`
	Skipped     []string      `json:"skipped,omitempty"`
	Occurrences int64         `json:"occurrences,omitempty"`
	Generation  uint64        `json:"generation"`
	Duration    time.Duration `json:"duration"`
}

// IndexUpdated is the payload published after a successful update.
type IndexUpdated struct {
	Op         string    `json:"op"`
	IDs        []string  `json:"ids"`
	Generation uint64    `json:"generation"`
	At         time.Time `json:"at"`
}

// Add indexes the structures in ids that are not already known. On failure
// the structures stay dirty and Recover purges them.
func (u *Updater) Add(ctx context.Context, ids []string) (*Report, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	start := time.Now()

	known, err := u.repo.Known(ctx)
	if err != nil {
		return nil, err
	}
	todo, skipped := partition(dedupe(ids), known)
	report := &Report{Op: "add", Applied: todo, Skipped: skipped}
	if len(todo) == 0 {
		report.Generation = u.index.Generation()
		return report, nil
	}

	if err := u.repo.MarkDirty(ctx, todo); err != nil {
		return nil, err
	}
	// Bindings left by an earlier failed attempt may still own index data.
	var stale []string
	for _, id := range todo {
		if _, bound := u.provider.Lookup(id); bound {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if _, err := u.purge(ctx, u.provider.Release(stale)); err != nil {
			return nil, fmt.Errorf("purging %d stale structures: %w", len(stale), err)
		}
	}
	indices := make(map[string]uint32, len(todo))
	for _, id := range todo {
		idx, _, err := u.provider.Acquire(id)
		if err != nil {
			return nil, fmt.Errorf("acquiring index for %s: %w", id, err)
		}
		indices[id] = idx
	}
	if err := u.repo.SaveIndexState(ctx, u.provider.Snapshot()); err != nil {
		return nil, err
	}

	occurrences, err := u.load(ctx, todo, indices)
	if err == nil {
		err = u.index.Commit(ctx)
	}
	if err != nil {
		if _, derr := u.index.DiscardBatches(); derr != nil {
			u.logger.Warn("discarding batch files failed", "error", derr)
		}
		u.observe("add", start, 0, err)
		return nil, fmt.Errorf("adding %d structures: %w", len(todo), err)
	}
	if err := u.repo.MarkKnown(ctx, todo); err != nil {
		return nil, err
	}

	report.Occurrences = occurrences
	report.Generation = u.index.Generation()
	report.Duration = time.Since(start)
	u.observe("add", start, len(todo), nil)
	u.announce(ctx, "add", todo, report.Generation)
	u.logger.Info("structures added",
		"count", len(todo),
		"skipped", len(skipped),
		"occurrences", occurrences,
		"generation", report.Generation,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

// load builds the residue graphs of ids in chunks of BatchSize and flushes
// each chunk as one batch.
func (u *Updater) load(ctx context.Context, ids []string, indices map[string]uint32) (int64, error) {
	var total atomic.Int64
	for lo := 0; lo < len(ids); lo += u.opts.BatchSize {
		chunk := ids[lo:min(lo+u.opts.BatchSize, len(ids))]
		batch := u.index.NewBatch()
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(u.opts.Workers)
		for _, id := range chunk {
			g.Go(func() error {
				s, err := u.source.Load(gctx, id)
				if err != nil {
					return fmt.Errorf("loading %s: %w", id, err)
				}
				occs, err := u.builder.Build(s)
				if err != nil {
					return fmt.Errorf("building residue graph of %s: %w", id, err)
				}
				batch.Add(indices[id], occs)
				total.Add(int64(len(occs)))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return 0, err
		}
		if err := batch.Flush(); err != nil {
			return 0, err
		}
		u.logger.Debug("batch loaded", "batch_id", batch.ID(), "structures", len(chunk), "files", batch.Files())
	}
	return total.Load(), nil
}

// Remove drops the structures in ids from the index. Unknown ids are
// skipped.
func (u *Updater) Remove(ctx context.Context, ids []string) (*Report, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	start := time.Now()

	ids = dedupe(ids)
	var bound, skipped []string
	for _, id := range ids {
		if _, ok := u.provider.Lookup(id); ok {
			bound = append(bound, id)
		} else {
			skipped = append(skipped, id)
		}
	}
	report := &Report{Op: "remove", Applied: bound, Skipped: skipped}
	if len(bound) == 0 {
		if err := u.repo.Forget(ctx, ids); err != nil {
			return nil, err
		}
		report.Generation = u.index.Generation()
		return report, nil
	}

	released := u.provider.Release(bound)
	if _, err := u.purge(ctx, released); err != nil {
		u.observe("remove", start, 0, err)
		return nil, fmt.Errorf("removing %d structures: %w", len(bound), err)
	}
	if err := u.repo.Forget(ctx, ids); err != nil {
		return nil, err
	}

	report.Generation = u.index.Generation()
	report.Duration = time.Since(start)
	u.observe("remove", start, len(bound), nil)
	u.announce(ctx, "remove", bound, report.Generation)
	u.logger.Info("structures removed",
		"count", len(bound),
		"skipped", len(skipped),
		"generation", report.Generation,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

// purge persists the released indices as pending, deletes them from the
// index and only then makes them reusable.
func (u *Updater) purge(ctx context.Context, released *roaring.Bitmap) (int, error) {
	if err := u.repo.SaveIndexState(ctx, u.provider.Snapshot()); err != nil {
		return 0, err
	}
	if err := u.index.Delete(ctx, released); err != nil {
		return 0, err
	}
	n := u.provider.Reclaim(released)
	return n, u.repo.SaveIndexState(ctx, u.provider.Snapshot())
}

// RecoverReport lists what Recover cleaned up.
type RecoverReport struct {
	Purged     []string `json:"purged"`
	Forgotten  []string `json:"forgotten,omitempty"`
	Lingering  []uint32 `json:"lingering"`
	Reclaimed  int      `json:"reclaimed"`
	Generation uint64   `json:"generation"`
}

// Recover restores the persisted provider state and brings the index back
// in line with it: dirty structures are removed, known structures without a
// binding are forgotten, and indices referenced by the index but bound to
// no structure are deleted and reclaimed.
func (u *Updater) Recover(ctx context.Context) (*RecoverReport, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	start := time.Now()

	snap, ok, err := u.repo.LoadIndexState(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := u.provider.Restore(snap); err != nil {
			return nil, fmt.Errorf("restoring structure indices: %w", err)
		}
	}

	dirty, err := u.repo.Dirty(ctx)
	if err != nil {
		return nil, err
	}
	known, err := u.repo.Known(ctx)
	if err != nil {
		return nil, err
	}
	var forgotten []string
	for _, id := range known {
		if _, bound := u.provider.Lookup(id); !bound {
			forgotten = append(forgotten, id)
		}
	}

	referenced, err := u.index.ReportKnownKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning index: %w", err)
	}
	lingering := roaring.AndNot(referenced, u.provider.Known())
	lingering.AndNot(u.provider.Pending())
	u.provider.Release(dirty)
	u.provider.ReleaseIndices(lingering)

	// Lingering indices at or beyond the provider's range were never handed
	// out, so they are deleted but not parked.
	doomed := roaring.Or(u.provider.Pending(), lingering)
	report := &RecoverReport{
		Purged:    dirty,
		Forgotten: forgotten,
		Lingering: lingering.ToArray(),
	}
	if !doomed.IsEmpty() {
		n, err := u.purge(ctx, doomed)
		if err != nil {
			u.observe("recover", start, 0, err)
			return nil, fmt.Errorf("purging %d indices: %w", doomed.GetCardinality(), err)
		}
		report.Reclaimed = n
	}
	if err := u.repo.Forget(ctx, append(dirty, forgotten...)); err != nil {
		return nil, err
	}
	report.Generation = u.index.Generation()
	u.observe("recover", start, len(dirty), nil)

	if len(dirty) > 0 || !doomed.IsEmpty() {
		u.invalidate(ctx)
		u.logger.Warn("index recovered",
			"purged", len(dirty),
			"forgotten", len(forgotten),
			"lingering", len(report.Lingering),
			"reclaimed", report.Reclaimed,
			"generation", report.Generation,
		)
	} else {
		u.logger.Info("index consistent", "structures", u.provider.Len(), "generation", report.Generation)
	}
	return report, nil
}

func (u *Updater) announce(ctx context.Context, op string, ids []string, generation uint64) {
	u.invalidate(ctx)
	if u.opts.Publisher == nil {
		return
	}
	event := kafka.Event{
		Key:   op,
		Value: IndexUpdated{Op: op, IDs: ids, Generation: generation, At: time.Now().UTC()},
	}
	if err := u.opts.Publisher.Publish(ctx, event); err != nil {
		u.logger.Warn("publishing index-updated event failed", "op", op, "generation", generation, "error", err)
	}
}

func (u *Updater) invalidate(ctx context.Context) {
	if u.opts.Cache == nil {
		return
	}
	if err := u.opts.Cache.Invalidate(ctx); err != nil {
		u.logger.Warn("result cache invalidation failed", "error", err)
	}
}

func (u *Updater) observe(op string, start time.Time, n int, err error) {
	m := u.opts.Metrics
	if m == nil {
		return
	}
	m.UpdateDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil && n > 0 {
		m.StructuresUpdated.WithLabelValues(op).Add(float64(n))
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func partition(ids, known []string) (todo, skipped []string) {
	set := make(map[string]struct{}, len(known))
	for _, id := range known {
		set[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := set[id]; ok {
			skipped = append(skipped, id)
		} else {
			todo = append(todo, id)
		}
	}
	return todo, skipped
}
