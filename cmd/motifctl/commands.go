package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/service"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/updater"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/motif-search/pkg/metrics"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

// session is what every subcommand runs against: an opened service whose
// persisted state has been restored and reconciled.
type session struct {
	ctx       context.Context
	svc       *service.Service
	recovered *updater.RecoverReport
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "motifctl",
		Short: "Administer a structural motif index",
		Long: `motifctl manages a motif index directly on disk.

Every command first restores the persisted structure indices and purges
anything an interrupted update left behind, exactly as the indexer does at
startup. Do not run it against an index a live indexer is writing to.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (defaults plus MS_* overrides when empty)")
	root.AddCommand(
		newAddCmd(opts),
		newRemoveCmd(opts),
		newRecoverCmd(opts),
		newStatsCmd(opts),
	)
	return root
}

func (o *rootOptions) run(cmd *cobra.Command, fn func(s *session) (any, error)) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	logger.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.Open(cfg, metrics.New(nil))
	if err != nil {
		return err
	}
	defer svc.Close()

	report, err := svc.Updater.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering index: %w", err)
	}
	out, err := fn(&session{ctx: ctx, svc: svc, recovered: report})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add ID...",
		Short: "Index structures from the structure directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) (any, error) {
				return s.svc.Updater.Add(s.ctx, args)
			})
		},
	}
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID...",
		Short: "Remove structures from the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) (any, error) {
				return s.svc.Updater.Remove(s.ctx, args)
			})
		},
	}
}

func newRecoverCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Purge interrupted updates and lingering structure indices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) (any, error) {
				return s.recovered, nil
			})
		},
	}
}

type statsOutput struct {
	Generation         uint64    `json:"generation"`
	CreatedAt          time.Time `json:"created_at,omitzero"`
	Descriptors        int       `json:"descriptors"`
	DataBytes          uint64    `json:"data_bytes"`
	Structures         int       `json:"structures"`
	PendingIndices     uint64    `json:"pending_indices"`
	CorruptDescriptors []string  `json:"corrupt_descriptors,omitempty"`
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) (any, error) {
				st := s.svc.Index.Stats()
				out := statsOutput{
					Generation:     st.Generation,
					Descriptors:    st.Descriptors,
					DataBytes:      st.DataBytes,
					Structures:     s.svc.Provider.Len(),
					PendingIndices: s.svc.Provider.Pending().GetCardinality(),
				}
				if st.CreatedAt > 0 {
					out.CreatedAt = time.Unix(st.CreatedAt, 0).UTC()
				}
				for _, d := range s.svc.Index.CorruptDescriptors() {
					out.CorruptDescriptors = append(out.CorruptDescriptors, d.String())
				}
				return out, nil
			})
		},
	}
}
