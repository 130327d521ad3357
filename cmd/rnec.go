package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veeduria-co/warroom-cli/pkg/rnec"
)

var rnecLoop bool

var rnecCmd = &cobra.Command{
	Use:   "rnec",
	Short: "Interact with the official results feed",
}

var rnecSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull official results for mesas still missing them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		poller := rnec.NewPoller(
			rnec.New(rnec.Config{
				BaseURL:    cfg.RNEC.BaseURL,
				RatePerSec: cfg.RNEC.RatePerSec,
				Burst:      cfg.RNEC.Burst,
			}),
			env.Store, env.Ingest, env.Incidents,
			rnec.PollerConfig{
				PollInterval: cfg.RNEC.PollInterval,
				DelayAfter:   cfg.RNEC.DelayAfter,
			},
		)

		if rnecLoop {
			return poller.Run(ctx)
		}

		stats, err := poller.SyncOnce(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("sync complete",
			zap.Int("fetched", stats.Fetched),
			zap.Int("pending", stats.Pending),
			zap.Int("failed", stats.Failed),
			zap.Int("delayed", stats.Delayed),
		)
		return nil
	},
}

func init() {
	rnecSyncCmd.Flags().BoolVar(&rnecLoop, "loop", false, "keep polling at the configured interval")
	rnecCmd.AddCommand(rnecSyncCmd)
	rootCmd.AddCommand(rnecCmd)
}
