package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veeduria-co/warroom-cli/internal/registry"
)

var (
	importMesasFile   string
	importRosterFile  string
	importContestID   string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load registry data before election day",
}

var importMesasCmd = &cobra.Command{
	Use:   "mesas",
	Short: "Import the DIVIPOL mesa registry from XLSX or CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		contest := importContestID
		if contest == "" {
			contest = cfg.Contest.ID
		}

		mesas, err := registry.LoadMesas(importMesasFile, contest)
		if err != nil {
			return err
		}
		if len(mesas) == 0 {
			return eris.Errorf("no usable rows in %s", importMesasFile)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		n, err := st.UpsertMesas(ctx, mesas)
		if err != nil {
			return eris.Wrap(err, "import mesas")
		}

		zap.L().Info("mesa registry imported",
			zap.Int("mesas", n),
			zap.String("contest", contest),
			zap.String("file", importMesasFile),
		)
		return nil
	},
}

var importWitnessesCmd = &cobra.Command{
	Use:   "witnesses",
	Short: "Import the witness roster from YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		witnesses, err := registry.LoadWitnesses(importRosterFile)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		n, err := st.UpsertWitnesses(ctx, witnesses)
		if err != nil {
			return eris.Wrap(err, "import witnesses")
		}

		zap.L().Info("witness roster imported",
			zap.Int("witnesses", n),
			zap.String("file", importRosterFile),
		)
		return nil
	},
}

func init() {
	importMesasCmd.Flags().StringVar(&importMesasFile, "file", "", "registry export (.xlsx or .csv, required)")
	importMesasCmd.Flags().StringVar(&importContestID, "contest", "", "contest id (default from config)")
	_ = importMesasCmd.MarkFlagRequired("file")

	importWitnessesCmd.Flags().StringVar(&importRosterFile, "file", "", "roster YAML (required)")
	_ = importWitnessesCmd.MarkFlagRequired("file")

	importCmd.AddCommand(importMesasCmd)
	importCmd.AddCommand(importWitnessesCmd)
	rootCmd.AddCommand(importCmd)
}
