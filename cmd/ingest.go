package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	ingestFile        string
	ingestConcurrency int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest E14 submissions from a file (JSON array or NDJSON)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := ingestConcurrency
		if concurrency == 0 {
			concurrency = cfg.Ingest.MaxConcurrent
		}

		res, err := env.Ingest.IngestFile(ctx, ingestFile, concurrency)
		if err != nil {
			return err
		}

		zap.L().Info("ingest complete",
			zap.String("file", ingestFile),
			zap.Int("accepted", res.Accepted),
			zap.Int("rejected", res.Rejected),
			zap.Int("failed", res.Failed),
		)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "submissions file (required)")
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", 0, "parallel submissions (default from config)")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}
