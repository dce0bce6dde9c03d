package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structure"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/updater"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	src := structure.DirSource{Dir: filepath.Join(dir, "structures")}
	for i, id := range []string{"1ABC", "2DEF"} {
		shift := float64(i)
		s, err := structure.New(id, nil, []structure.Residue{
			{Label: structure.ResidueLabel{Chain: "A", Seq: 1}, Type: descriptor.Serine, Backbone: r3.Vec{X: shift}, SideChain: r3.Vec{X: shift, Y: 1.5}},
			{Label: structure.ResidueLabel{Chain: "A", Seq: 2}, Type: descriptor.Histidine, Backbone: r3.Vec{X: 5 + shift}, SideChain: r3.Vec{X: 5 + shift, Y: 1, Z: 1}},
			{Label: structure.ResidueLabel{Chain: "A", Seq: 3}, Type: descriptor.AsparticAcid, Backbone: r3.Vec{X: 2 + shift, Y: 4}, SideChain: r3.Vec{X: 2 + shift, Y: 5, Z: 1}},
		})
		require.NoError(t, err)
		require.NoError(t, src.Save(s, i == 1))
	}

	path := filepath.Join(dir, "motif.yaml")
	cfg := fmt.Sprintf(`index:
  dataDir: %s
  workers: 2
update:
  structureDir: %s
  batchSize: 1
state:
  backend: file
  path: %s
logging:
  level: error
`, filepath.Join(dir, "index"), src.Dir, filepath.Join(dir, "state.json"))
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

func execute(t *testing.T, config string, args ...string) ([]byte, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", config}, args...))
	err := cmd.Execute()
	return out.Bytes(), err
}

func TestCommandsEndToEnd(t *testing.T) {
	config := writeConfig(t)

	out, err := execute(t, config, "add", "1ABC", "2DEF")
	require.NoError(t, err)
	var added updater.Report
	require.NoError(t, json.Unmarshal(out, &added))
	assert.Equal(t, []string{"1ABC", "2DEF"}, added.Applied)
	assert.Equal(t, uint64(1), added.Generation)

	out, err = execute(t, config, "stats")
	require.NoError(t, err)
	var stats statsOutput
	require.NoError(t, json.Unmarshal(out, &stats))
	assert.Equal(t, 2, stats.Structures)
	assert.Equal(t, 3, stats.Descriptors)
	assert.False(t, stats.CreatedAt.IsZero())

	out, err = execute(t, config, "remove", "2DEF")
	require.NoError(t, err)
	var removed updater.Report
	require.NoError(t, json.Unmarshal(out, &removed))
	assert.Equal(t, []string{"2DEF"}, removed.Applied)

	out, err = execute(t, config, "stats")
	require.NoError(t, err)
	stats = statsOutput{}
	require.NoError(t, json.Unmarshal(out, &stats))
	assert.Equal(t, 1, stats.Structures)
	assert.Zero(t, stats.PendingIndices)
	assert.Equal(t, uint64(2), stats.Generation)

	out, err = execute(t, config, "recover")
	require.NoError(t, err)
	var rec updater.RecoverReport
	require.NoError(t, json.Unmarshal(out, &rec))
	assert.Empty(t, rec.Purged)
	assert.Empty(t, rec.Lingering)
}

func TestCommandErrors(t *testing.T) {
	config := writeConfig(t)

	_, err := execute(t, config, "add")
	assert.Error(t, err, "add needs at least one id")

	_, err = execute(t, config, "add", "9XYZ")
	assert.Error(t, err)

	_, err = execute(t, config, "stats", "extra")
	assert.Error(t, err)
}
