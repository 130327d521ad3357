package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/veeduria-co/warroom-cli/internal/warroom"
)

var warroomJSON bool

var warroomCmd = &cobra.Command{
	Use:   "warroom",
	Short: "Print the aggregate war-room snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Warroom.Snapshot(ctx)
		if err != nil {
			return err
		}

		if warroomJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

func formatSnapshot(out io.Writer, snap *warroom.Snapshot) {
	fmt.Fprintf(out, "Coverage: %s (%d/%d mesas)\n",
		snap.CoverageLabel, snap.MesasReported, snap.TotalMesas)
	fmt.Fprintf(out, "Open incidents: %d\n", snap.OpenIncidents)

	if len(snap.Candidates) > 0 {
		fmt.Fprintln(out, "\nRunning totals (best source per mesa):")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, c := range snap.Candidates {
			fmt.Fprintf(w, "  %s\t%d\n", c.Candidate, c.Votes)
		}
		w.Flush()
	}

	if len(snap.Depts) > 0 {
		fmt.Fprintln(out, "\nBy department:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  DEPT\tMESAS\tREPORTED\tCOVERAGE\tOPEN")
		for _, d := range snap.Depts {
			name := d.DeptName
			if name == "" {
				name = d.Dept
			}
			fmt.Fprintf(w, "  %s\t%d\t%d\t%s\t%d\n",
				name, d.Mesas, d.Reported, d.CoverageLabel, d.OpenIncidents)
		}
		w.Flush()
	}
}

func init() {
	warroomCmd.Flags().BoolVar(&warroomJSON, "json", false, "emit the snapshot as JSON")
	rootCmd.AddCommand(warroomCmd)
}
