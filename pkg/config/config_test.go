package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "zstd", cfg.Index.Compression)
	assert.Equal(t, 10, cfg.Search.MaxMotifSize)
	assert.Equal(t, "file", cfg.State.Backend)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlData := []byte(`
index:
  dataDir: /tmp/motif-index
  workers: 2
search:
  timeout: 5s
  tolerances:
    backbone: 0
    sideChain: 2
    angle: 1
`)
	require.NoError(t, os.WriteFile(path, yamlData, 0o644))
	t.Setenv("MS_INDEX_COMPRESSION", "lz4")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/motif-index", cfg.Index.DataDir)
	assert.Equal(t, 2, cfg.Index.Workers)
	assert.Equal(t, "lz4", cfg.Index.Compression)
	assert.Equal(t, 5*time.Second, cfg.Search.Timeout)
	assert.Equal(t, ToleranceSet{Backbone: 0, SideChain: 2, Angle: 1}, cfg.Search.Tolerances)
	// Untouched sections keep their defaults.
	assert.Equal(t, 400, cfg.Update.BatchSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"workers":     func(c *Config) { c.Index.Workers = 0 },
		"compression": func(c *Config) { c.Index.Compression = "brotli" },
		"motif size":  func(c *Config) { c.Search.MaxMotifSize = 1 },
		"tolerance":   func(c *Config) { c.Search.Tolerances.Angle = -1 },
		"backend":     func(c *Config) { c.State.Backend = "sqlite" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
