// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Index, Update, Search, State, Postgres, Kafka, Redis, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Index    IndexConfig    `yaml:"index"`
	Update   UpdateConfig   `yaml:"update"`
	Search   SearchConfig   `yaml:"search"`
	State    StateConfig    `yaml:"state"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// IndexConfig controls the on-disk inverted index: where it lives, how many
// workers commit and delete fan out to, and how buckets are compressed.
type IndexConfig struct {
	DataDir            string `yaml:"dataDir"`
	Workers            int    `yaml:"workers"`
	CommitWindow       int    `yaml:"commitWindow"`
	CacheSize          int    `yaml:"cacheSize"`
	Compression        string `yaml:"compression"`
	CompressionMinSize int    `yaml:"compressionMinSize"`
}

// UpdateConfig controls how structures are loaded and batched during ADD.
type UpdateConfig struct {
	StructureDir   string  `yaml:"structureDir"`
	BatchSize      int     `yaml:"batchSize"`
	DistanceCutoff float64 `yaml:"distanceCutoff"`
}

// SearchConfig controls query validation limits and the search time budget.
type SearchConfig struct {
	MaxMotifSize   int           `yaml:"maxMotifSize"`
	MaxResults     int           `yaml:"maxResults"`
	Timeout        time.Duration `yaml:"timeout"`
	DistanceCutoff float64       `yaml:"distanceCutoff"`
	Workers        int           `yaml:"workers"`
	Tolerances     ToleranceSet  `yaml:"tolerances"`
}

// ToleranceSet holds the default per-bin tolerances applied to queries.
type ToleranceSet struct {
	Backbone  int `yaml:"backbone"`
	SideChain int `yaml:"sideChain"`
	Angle     int `yaml:"angle"`
}

// StateConfig selects the state repository backend ("file" or "postgres").
type StateConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	UpdateRequests string `yaml:"updateRequests"`
	IndexUpdated   string `yaml:"indexUpdated"`
}

// RedisConfig holds Redis connection and result-caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles span logging around searches.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values, or an error if the result fails validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			DataDir:            "data/index",
			Workers:            8,
			CommitWindow:       1024,
			CacheSize:          4096,
			Compression:        "zstd",
			CompressionMinSize: 256,
		},
		Update: UpdateConfig{
			StructureDir:   "data/structures",
			BatchSize:      400,
			DistanceCutoff: 20,
		},
		Search: SearchConfig{
			MaxMotifSize:   10,
			MaxResults:     10000,
			Timeout:        90 * time.Second,
			DistanceCutoff: 20,
			Workers:        8,
			Tolerances: ToleranceSet{
				Backbone:  1,
				SideChain: 1,
				Angle:     1,
			},
		},
		State: StateConfig{
			Backend: "file",
			Path:    "data/state.json",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "motifsearch",
			User:            "motifsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "motifsearch-indexer",
			Topics: KafkaTopics{
				UpdateRequests: "motif-update-requests",
				IndexUpdated:   "motif-index-updated",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Index.DataDir == "" {
		return fmt.Errorf("index.dataDir must be set")
	}
	if c.Index.Workers < 1 {
		return fmt.Errorf("index.workers must be positive, got %d", c.Index.Workers)
	}
	if c.Index.CommitWindow < 1 {
		return fmt.Errorf("index.commitWindow must be positive, got %d", c.Index.CommitWindow)
	}
	switch c.Index.Compression {
	case "", "none", "zstd", "lz4":
	default:
		return fmt.Errorf("index.compression %q is not one of none, zstd, lz4", c.Index.Compression)
	}
	if c.Update.BatchSize < 1 {
		return fmt.Errorf("update.batchSize must be positive, got %d", c.Update.BatchSize)
	}
	if c.Update.DistanceCutoff <= 0 || c.Search.DistanceCutoff <= 0 {
		return fmt.Errorf("distance cutoffs must be positive")
	}
	if c.Search.MaxMotifSize < 2 {
		return fmt.Errorf("search.maxMotifSize must be at least 2, got %d", c.Search.MaxMotifSize)
	}
	t := c.Search.Tolerances
	if t.Backbone < 0 || t.SideChain < 0 || t.Angle < 0 {
		return fmt.Errorf("search.tolerances must be non-negative")
	}
	switch c.State.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("state.backend %q is not one of file, postgres", c.State.Backend)
	}
	return nil
}

// applyEnvOverrides reads MS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MS_INDEX_DATA_DIR"); v != "" {
		cfg.Index.DataDir = v
	}
	if v := os.Getenv("MS_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.Workers = n
		}
	}
	if v := os.Getenv("MS_INDEX_COMPRESSION"); v != "" {
		cfg.Index.Compression = v
	}
	if v := os.Getenv("MS_UPDATE_STRUCTURE_DIR"); v != "" {
		cfg.Update.StructureDir = v
	}
	if v := os.Getenv("MS_UPDATE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Update.BatchSize = n
		}
	}
	if v := os.Getenv("MS_SEARCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Search.Timeout = d
		}
	}
	if v := os.Getenv("MS_STATE_BACKEND"); v != "" {
		cfg.State.Backend = v
	}
	if v := os.Getenv("MS_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("MS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("MS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("MS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("MS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("MS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("MS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("MS_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("MS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MS_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("MS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
