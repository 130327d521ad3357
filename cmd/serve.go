package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veeduria-co/warroom-cli/internal/api"
	"github.com/veeduria-co/warroom-cli/internal/monitoring"
	"github.com/veeduria-co/warroom-cli/pkg/rnec"
)

var (
	servePort     int
	serveWithSync bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the war-room API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if serveWithSync {
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
			go func() {
				if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
					zap.L().Error("official feed poller stopped", zap.Error(err))
				}
			}()
		}

		if cfg.Watch.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Watch),
				cfg.Watch,
			)
			go checker.Run(ctx)
		}

		server := api.New(env.Store, env.Ingest, env.Incidents, env.Dispatch, env.Warroom)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: server.Router(cfg.Server.AllowedOrigins),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Bool("rnec_sync", serveWithSync))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWithSync, "with-rnec-sync", false, "also run the official feed poller")
	rootCmd.AddCommand(serveCmd)
}
