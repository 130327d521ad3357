package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/veeduria-co/warroom-cli/internal/incident"
	"github.com/veeduria-co/warroom-cli/internal/model"
	"github.com/veeduria-co/warroom-cli/internal/store"
)

var (
	incidentsMesa     string
	incidentsStatus   string
	incidentsSeverity string
	incidentsLimit    int
)

var incidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "Inspect the incident queue",
}

var incidentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List incidents with live SLA state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		incidents, err := st.ListIncidents(ctx, store.IncidentFilter{
			MesaCode: incidentsMesa,
			Status:   model.IncidentStatus(incidentsStatus),
			Severity: model.Severity(incidentsSeverity),
			Limit:    incidentsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "incidents list")
		}

		if len(incidents) == 0 {
			fmt.Fprintln(os.Stderr, "No incidents found.")
			return nil
		}

		formatIncidentsList(os.Stdout, incidents)
		return nil
	},
}

var incidentsShowCmd = &cobra.Command{
	Use:   "show <incident-id>",
	Short: "Show one incident with its audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		inc, err := st.GetIncident(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "incidents show")
		}
		events, err := st.ListIncidentEvents(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "incidents show events")
		}

		out := struct {
			incident.View
			Events []model.IncidentEvent `json:"events"`
		}{
			View:   incident.Decorate(*inc, time.Now().UTC()),
			Events: events,
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func formatIncidentsList(out io.Writer, incidents []model.Incident) {
	now := time.Now().UTC()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMESA\tTYPE\tSEV\tSTATUS\tOCC\tSLA")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t---\t------\t---\t---")

	for _, inc := range incidents {
		view := incident.Decorate(inc, now)

		sla := view.SLARemaining.Round(time.Second).String()
		if inc.Status.Terminal() {
			sla = "-"
		} else if view.SLABreached {
			sla = "BREACHED " + (-view.SLARemaining).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			truncateID(inc.ID),
			inc.MesaCode,
			inc.Type,
			inc.Severity,
			inc.Status,
			inc.Occurrences,
			sla,
		)
	}
	_ = w.Flush()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	incidentsListCmd.Flags().StringVar(&incidentsMesa, "mesa", "", "filter by mesa code")
	incidentsListCmd.Flags().StringVar(&incidentsStatus, "status", "", "filter by status")
	incidentsListCmd.Flags().StringVar(&incidentsSeverity, "severity", "", "filter by severity")
	incidentsListCmd.Flags().IntVar(&incidentsLimit, "limit", 50, "max rows")

	incidentsCmd.AddCommand(incidentsListCmd)
	incidentsCmd.AddCommand(incidentsShowCmd)
	rootCmd.AddCommand(incidentsCmd)
}
