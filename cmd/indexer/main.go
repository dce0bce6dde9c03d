package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/service"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/updater"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults plus MS_* overrides when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg); err != nil {
		slog.Error("motif indexer failed", "error", err)
		os.Exit(1)
	}
	slog.Info("motif indexer stopped")
}

// run serves until a signal arrives. It returns an error when startup fails
// or the command consumer stops on a message it could not apply; the
// message stays uncommitted and is redelivered once the indexer restarts.
func run(cfg *config.Config) error {
	slog.Info("starting motif indexer", "index_dir", cfg.Index.DataDir, "state_backend", cfg.State.Backend)

	m := metrics.New(prometheus.DefaultRegisterer)
	svc, err := service.Open(cfg, m)
	if err != nil {
		return fmt.Errorf("opening service: %w", err)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := svc.Updater.Recover(ctx)
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	slog.Info("startup recovery complete",
		"purged", len(report.Purged),
		"lingering", len(report.Lingering),
		"generation", report.Generation,
	)

	if cfg.Metrics.Enabled {
		routes := middleware.Wrap(svc.Health().Routes(), m, 6*time.Second)
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, routes)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", "error", err)
			}
		}()
	}

	if !cfg.Kafka.Enabled {
		slog.Info("motif indexer ready, kafka disabled")
		<-ctx.Done()
		return nil
	}
	consumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.UpdateRequests,
		updater.HandleCommands(svc.Updater),
		m,
	)
	defer consumer.Close()
	slog.Info("motif indexer ready, consuming update commands",
		"topic", cfg.Kafka.Topics.UpdateRequests,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("consuming update commands: %w", err)
	}
	return nil
}
