// Package service assembles the index, state, updater and search engine
// from configuration for the indexer daemon and the admin CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/search"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/state"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structidx"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structure"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/updater"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/redis"
)

type Service struct {
	Config   *config.Config
	Metrics  *metrics.Metrics
	Index    *index.InvertedIndex
	Provider *structidx.Provider
	State    state.Repository
	Source   structure.Source
	Updater  *updater.Updater
	Engine   *search.Engine
	// Cache is nil unless Redis is enabled.
	Cache *search.ResultCache

	redis    *pkgredis.Client
	producer *kafka.Producer
	closers  []func() error
	logger   *slog.Logger
}

// Open wires every component cfg enables. The provider starts empty; call
// Updater.Recover before serving to load and reconcile persisted state.
func Open(cfg *config.Config, m *metrics.Metrics) (*Service, error) {
	s := &Service{
		Config:   cfg,
		Metrics:  m,
		Provider: structidx.New(),
		Source:   structure.DirSource{Dir: cfg.Update.StructureDir},
		logger:   slog.Default().With("component", "service"),
	}

	opts, err := index.OptionsFromConfig(cfg.Index, m)
	if err != nil {
		return nil, err
	}
	s.Index, err = index.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	s.closers = append(s.closers, s.Index.Close)

	s.State, err = state.Open(cfg.State, cfg.Postgres)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("opening state repository: %w", err)
	}
	s.closers = append(s.closers, s.State.Close)

	engineCfg := search.EngineConfigFromConfig(cfg, m)
	if cfg.Redis.Enabled {
		s.redis, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, s.redis.Close)
		s.Cache = search.NewResultCache(s.redis, cfg.Redis.CacheTTL, m)
		engineCfg.Cache = s.Cache
	}
	s.Engine = search.NewEngine(s.Index, s.Provider, engineCfg)

	updOpts := updater.OptionsFromConfig(cfg, m)
	if s.Cache != nil {
		updOpts.Cache = s.Cache
	}
	if cfg.Kafka.Enabled {
		s.producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexUpdated)
		s.closers = append(s.closers, s.producer.Close)
		updOpts.Publisher = s.producer
	}
	s.Updater = updater.New(s.Index, s.Provider, s.State, s.Source, updOpts)

	s.logger.Info("service opened",
		"index_dir", cfg.Index.DataDir,
		"state_backend", cfg.State.Backend,
		"redis", cfg.Redis.Enabled,
		"kafka", cfg.Kafka.Enabled,
	)
	return s, nil
}

// Health registers a readiness check per enabled dependency.
func (s *Service) Health() *health.Checker {
	c := health.NewChecker()
	c.Register("index", func(ctx context.Context) health.ComponentHealth {
		st := s.Index.Stats()
		if st.Corrupt > 0 {
			return health.ComponentHealth{
				Status:  health.StatusDegraded,
				Message: fmt.Sprintf("%d corrupt buckets in generation %d", st.Corrupt, st.Generation),
			}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	c.Register("state", health.PingCheck(func(ctx context.Context) error {
		_, _, err := s.State.LoadIndexState(ctx)
		return err
	}, true))
	if s.redis != nil {
		c.Register("redis", health.PingCheck(s.redis.Ping, false))
	}
	if s.Config.Kafka.Enabled {
		brokers := s.Config.Kafka.Brokers
		c.Register("kafka", health.PingCheck(func(ctx context.Context) error {
			return kafka.Ping(ctx, brokers)
		}, true))
	}
	return c
}

// Close releases everything Open acquired, in reverse order.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
