package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structidx"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRepositoryTransitions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	repo, err := NewFileRepository(path)
	require.NoError(t, err)

	require.NoError(t, repo.MarkDirty(ctx, []string{"2B", "1A"}))
	dirty, _ := repo.Dirty(ctx)
	assert.Equal(t, []string{"1A", "2B"}, dirty)

	require.NoError(t, repo.MarkKnown(ctx, []string{"1A"}))
	known, _ := repo.Known(ctx)
	dirty, _ = repo.Dirty(ctx)
	assert.Equal(t, []string{"1A"}, known)
	assert.Equal(t, []string{"2B"}, dirty)

	require.NoError(t, repo.MarkDirty(ctx, []string{"1A"}))
	known, _ = repo.Known(ctx)
	assert.Empty(t, known, "a dirty structure is not known")

	require.NoError(t, repo.Forget(ctx, []string{"1A", "2B", "absent"}))
	dirty, _ = repo.Dirty(ctx)
	assert.Empty(t, dirty)
}

func TestFileRepositoryReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	repo, err := NewFileRepository(path)
	require.NoError(t, err)

	_, ok, err := repo.LoadIndexState(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	p := structidx.New()
	_, _, err = p.Acquire("1ABC")
	require.NoError(t, err)
	_, _, err = p.Acquire("2DEF")
	require.NoError(t, err)
	p.Release([]string{"1ABC"})

	require.NoError(t, repo.SaveIndexState(ctx, p.Snapshot()))
	require.NoError(t, repo.MarkKnown(ctx, []string{"2DEF"}))
	require.NoError(t, repo.MarkDirty(ctx, []string{"3GHI"}))

	again, err := NewFileRepository(path)
	require.NoError(t, err)
	known, _ := again.Known(ctx)
	dirty, _ := again.Dirty(ctx)
	assert.Equal(t, []string{"2DEF"}, known)
	assert.Equal(t, []string{"3GHI"}, dirty)

	snap, ok, err := again.LoadIndexState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	restored := structidx.New()
	require.NoError(t, restored.Restore(snap))
	idx, ok := restored.Lookup("2DEF")
	require.True(t, ok)
	assert.Equal(t, uint32(1), idx)
	assert.True(t, restored.Pending().Contains(0))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileRepositoryRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err := NewFileRepository(path)
	assert.Error(t, err)
}

func TestOpenSelectsBackend(t *testing.T) {
	repo, err := Open(config.StateConfig{Backend: "file", Path: filepath.Join(t.TempDir(), "s.json")}, config.PostgresConfig{})
	require.NoError(t, err)
	assert.IsType(t, &FileRepository{}, repo)
	require.NoError(t, repo.Close())

	_, err = Open(config.StateConfig{Backend: "etcd"}, config.PostgresConfig{})
	assert.Error(t, err)
}
