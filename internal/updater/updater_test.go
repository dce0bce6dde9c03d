package updater

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/index/bucket"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/state"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structidx"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structure"
	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []IndexUpdated
}

func (p *recordingPublisher) Publish(_ context.Context, e kafka.Event) error {
	ev, ok := e.Value.(IndexUpdated)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", e.Value)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type countingCache struct{ n int }

func (c *countingCache) Invalidate(context.Context) error {
	c.n++
	return nil
}

func triad(t *testing.T, id string, shift float64) *structure.Structure {
	t.Helper()
	at := func(x, y, z float64) r3.Vec { return r3.Vec{X: x + shift, Y: y, Z: z} }
	s, err := structure.New(id, nil, []structure.Residue{
		{Label: structure.ResidueLabel{Chain: "A", Seq: 1}, Type: descriptor.Serine, Backbone: at(0, 0, 0), SideChain: at(0, 1.5, 0)},
		{Label: structure.ResidueLabel{Chain: "A", Seq: 2}, Type: descriptor.Histidine, Backbone: at(5, 0, 0), SideChain: at(5, 1, 1)},
		{Label: structure.ResidueLabel{Chain: "A", Seq: 3}, Type: descriptor.AsparticAcid, Backbone: at(2, 4, 0), SideChain: at(2, 5, 1)},
	})
	require.NoError(t, err)
	return s
}

type fixture struct {
	dir       string
	ix        *index.InvertedIndex
	provider  *structidx.Provider
	repo      state.Repository
	source    structure.MemorySource
	publisher *recordingPublisher
	cache     *countingCache
	u         *Updater
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dir: t.TempDir(),
		source: structure.MemorySource{
			"1A": triad(t, "1A", 0),
			"2B": triad(t, "2B", 0.1),
			"3C": triad(t, "3C", 0.2),
		},
	}
	f.open(t)
	return f
}

// open builds a fresh updater over the fixture's directory, as a restarted
// process would.
func (f *fixture) open(t *testing.T) {
	t.Helper()
	if f.ix != nil {
		require.NoError(t, f.ix.Close())
		require.NoError(t, f.repo.Close())
	}
	ix, err := index.Open(index.Options{
		Dir:     filepath.Join(f.dir, "index"),
		Workers: 2,
		Codec:   bucket.NewCodec(bucket.CompressionZstd, 16),
	})
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	repo, err := state.NewFileRepository(filepath.Join(f.dir, "state.json"))
	require.NoError(t, err)

	f.ix = ix
	f.repo = repo
	f.provider = structidx.New()
	f.publisher = &recordingPublisher{}
	f.cache = &countingCache{}
	f.u = New(ix, f.provider, repo, f.source, Options{
		BatchSize: 2,
		Workers:   2,
		Publisher: f.publisher,
		Cache:     f.cache,
		Metrics:   metrics.New(nil),
	})
}

func (f *fixture) structuresOf(t *testing.T, id string) []uint32 {
	t.Helper()
	occs, err := structure.GraphBuilder{}.Build(f.source[id])
	require.NoError(t, err)
	require.NotEmpty(t, occs)
	b, err := f.ix.Select(occs[0].Descriptor)
	require.NoError(t, err)
	return b.Structures()
}

func TestAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rep, err := f.u.Add(ctx, []string{"2B", "1A", "1A"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1A", "2B"}, rep.Applied)
	assert.Empty(t, rep.Skipped)
	assert.Equal(t, int64(6), rep.Occurrences)
	assert.Equal(t, uint64(1), rep.Generation)

	idxA, ok := f.provider.Lookup("1A")
	require.True(t, ok)
	idxB, ok := f.provider.Lookup("2B")
	require.True(t, ok)
	assert.ElementsMatch(t, []uint32{idxA, idxB}, f.structuresOf(t, "1A"))

	known, err := f.repo.Known(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1A", "2B"}, known)
	dirty, err := f.repo.Dirty(ctx)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, IndexUpdated{Op: "add", IDs: []string{"1A", "2B"}, Generation: 1, At: f.publisher.events[0].At}, f.publisher.events[0])
	assert.Equal(t, 1, f.cache.n)

	rep, err = f.u.Add(ctx, []string{"1A"})
	require.NoError(t, err)
	assert.Empty(t, rep.Applied)
	assert.Equal(t, []string{"1A"}, rep.Skipped)
	assert.Equal(t, uint64(1), f.ix.Generation(), "nothing new to commit")
	assert.Len(t, f.publisher.events, 1)
}

func TestFailedAddIsPurgedByRecover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.u.Add(ctx, []string{"1A", "missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnknownStructure)
	assert.Equal(t, uint64(0), f.ix.Generation())
	dirty, _ := f.repo.Dirty(ctx)
	assert.Equal(t, []string{"1A", "missing"}, dirty)
	assert.Empty(t, f.publisher.events)

	f.open(t)
	rep, err := f.u.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1A", "missing"}, rep.Purged)
	assert.Equal(t, 2, rep.Reclaimed)
	assert.Equal(t, 0, f.provider.Len())
	dirty, _ = f.repo.Dirty(ctx)
	assert.Empty(t, dirty)

	_, err = f.u.Add(ctx, []string{"1A"})
	require.NoError(t, err)
	idx, _ := f.provider.Lookup("1A")
	assert.Equal(t, []uint32{idx}, f.structuresOf(t, "1A"))
}

func TestRetriedAddReplacesStaleData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.u.Add(ctx, []string{"2B", "missing"})
	require.Error(t, err)
	f.source["missing"] = triad(t, "missing", 0.3)

	_, err = f.u.Add(ctx, []string{"2B", "missing"})
	require.NoError(t, err)
	keys, err := f.ix.ReportKnownKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.provider.Known().ToArray(), keys.ToArray())
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.u.Add(ctx, []string{"1A", "2B"})
	require.NoError(t, err)
	idxA, _ := f.provider.Lookup("1A")
	idxB, _ := f.provider.Lookup("2B")

	rep, err := f.u.Remove(ctx, []string{"1A", "nope"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1A"}, rep.Applied)
	assert.Equal(t, []string{"nope"}, rep.Skipped)
	assert.Equal(t, []uint32{idxB}, f.structuresOf(t, "2B"))
	assert.True(t, f.provider.Pending().IsEmpty())
	known, _ := f.repo.Known(ctx)
	assert.Equal(t, []string{"2B"}, known)
	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, "remove", f.publisher.events[1].Op)

	gen := f.ix.Generation()
	rep, err = f.u.Remove(ctx, []string{"1A"})
	require.NoError(t, err)
	assert.Empty(t, rep.Applied)
	assert.Equal(t, gen, f.ix.Generation())

	_, err = f.u.Add(ctx, []string{"3C"})
	require.NoError(t, err)
	idxC, _ := f.provider.Lookup("3C")
	assert.Equal(t, idxA, idxC, "the reclaimed index is reused")
}

func TestRecoverDeletesLingeringIndices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.u.Add(ctx, []string{"1A", "2B"})
	require.NoError(t, err)

	// An index nothing owns, as left by a crash between commit and the
	// provider snapshot.
	occs, err := structure.GraphBuilder{}.Build(f.source["3C"])
	require.NoError(t, err)
	batch := f.ix.NewBatch()
	batch.Add(7, occs)
	require.NoError(t, batch.Flush())
	require.NoError(t, f.ix.Commit(ctx))

	// A structure committed but never marked known.
	require.NoError(t, f.repo.MarkDirty(ctx, []string{"3C"}))
	idxC, _, err := f.provider.Acquire("3C")
	require.NoError(t, err)
	require.NoError(t, f.repo.SaveIndexState(ctx, f.provider.Snapshot()))
	batch = f.ix.NewBatch()
	batch.Add(idxC, occs)
	require.NoError(t, batch.Flush())
	require.NoError(t, f.ix.Commit(ctx))

	f.open(t)
	rep, err := f.u.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"3C"}, rep.Purged)
	assert.Equal(t, []uint32{7}, rep.Lingering)
	assert.Equal(t, 1, rep.Reclaimed, "index 7 was never handed out")

	keys, err := f.ix.ReportKnownKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.provider.Known().ToArray(), keys.ToArray())
	assert.Equal(t, 2, f.provider.Len())
	assert.Equal(t, 1, f.cache.n)

	rep, err = f.u.Recover(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Purged)
	assert.Empty(t, rep.Lingering)
	assert.Zero(t, rep.Reclaimed)
}

func TestRecoverForgetsUnboundKnownStructures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.u.Add(ctx, []string{"1A"})
	require.NoError(t, err)
	require.NoError(t, f.repo.MarkKnown(ctx, []string{"ghost"}))

	f.open(t)
	rep, err := f.u.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, rep.Forgotten)
	known, _ := f.repo.Known(ctx)
	assert.Equal(t, []string{"1A"}, known)
}

func TestHandleCommands(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	handle := HandleCommands(f.u)

	require.NoError(t, handle(ctx, nil, []byte(`{"op":"add","ids":["1A","2B"]}`)))
	assert.Equal(t, 2, f.provider.Len())
	require.NoError(t, handle(ctx, nil, []byte(`{"op":"remove","ids":["2B"]}`)))
	assert.Equal(t, 1, f.provider.Len())
	require.NoError(t, handle(ctx, nil, []byte(`{"op":"recover"}`)))

	for _, bad := range []string{`{"op":"compact"}`, `not json`, `{"op":"add","ids":["missing"]}`} {
		err := handle(ctx, nil, []byte(bad))
		require.Error(t, err, bad)
		assert.True(t, kafka.IsPermanent(err), bad)
	}

	ctx, cancel := context.WithCancel(ctx)
	cancel()
	err := handle(ctx, nil, []byte(`{"op":"add","ids":["3C"]}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, kafka.IsPermanent(err))
}
