// Package warroom shapes raw store aggregates into the dashboard
// snapshot. Read-only and pull-based: it never sits on the ingest path
// and is never the system of record.
package warroom

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/veeduria-co/warroom-cli/internal/model"
	"github.com/veeduria-co/warroom-cli/internal/store"
)

// CandidateTotal is one candidate's running total over the best-trust
// record per mesa.
type CandidateTotal struct {
	Candidate string `json:"candidate"`
	Votes     int    `json:"votes"`
}

// DeptStatus is a per-department coverage row. CoverageLabel degrades to
// "--" when the department has no mesas registered.
type DeptStatus struct {
	Dept          string  `json:"dept"`
	DeptName      string  `json:"dept_name"`
	Mesas         int     `json:"mesas"`
	Reported      int     `json:"reported"`
	CoveragePct   float64 `json:"coverage_pct"`
	CoverageLabel string  `json:"coverage_label"`
	OpenIncidents int     `json:"open_incidents"`
}

// Snapshot is the full war-room picture at one instant.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`

	TotalMesas    int     `json:"total_mesas"`
	MesasReported int     `json:"mesas_reported"`
	CoveragePct   float64 `json:"coverage_pct"`
	CoverageLabel string  `json:"coverage_label"`

	RecordsBySource     map[model.Source]int         `json:"records_by_source"`
	IncidentsBySeverity map[model.Severity]int       `json:"incidents_by_severity"`
	IncidentsByStatus   map[model.IncidentStatus]int `json:"incidents_by_status"`
	OpenIncidents       int                          `json:"open_incidents"`

	Depts      []DeptStatus     `json:"depts"`
	Candidates []CandidateTotal `json:"candidates"`
}

// Aggregator produces snapshots on demand.
type Aggregator struct {
	store store.Store
}

func New(s store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// Snapshot assembles the current picture. Sparse data degrades to zero
// values and "--" labels; one empty department never fails the whole
// snapshot.
func (a *Aggregator) Snapshot(ctx context.Context) (*Snapshot, error) {
	stats, err := a.store.AggregateStats(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		GeneratedAt:         time.Now().UTC(),
		TotalMesas:          stats.TotalMesas,
		MesasReported:       stats.MesasReported,
		RecordsBySource:     stats.RecordsBySource,
		IncidentsBySeverity: stats.IncidentsBySeverity,
		IncidentsByStatus:   stats.IncidentsByStatus,
	}
	snap.CoveragePct, snap.CoverageLabel = coverage(stats.MesasReported, stats.TotalMesas)

	for _, st := range []model.IncidentStatus{model.IncidentOpen, model.IncidentAssigned, model.IncidentInvestigating} {
		snap.OpenIncidents += stats.IncidentsByStatus[st]
	}

	for _, d := range stats.Depts {
		row := DeptStatus{
			Dept:          d.Dept,
			DeptName:      d.DeptName,
			Mesas:         d.Mesas,
			Reported:      d.Reported,
			OpenIncidents: d.OpenIncidents,
		}
		row.CoveragePct, row.CoverageLabel = coverage(d.Reported, d.Mesas)
		snap.Depts = append(snap.Depts, row)
	}

	totals, err := a.candidateTotals(ctx)
	if err != nil {
		return nil, err
	}
	snap.Candidates = totals

	return snap, nil
}

// candidateTotals sums the single best-trust latest record per mesa.
// Indicative only: totals shift as more trusted sources arrive.
func (a *Aggregator) candidateTotals(ctx context.Context) ([]CandidateTotal, error) {
	latest, err := a.store.ListLatestRecords(ctx, "")
	if err != nil {
		return nil, err
	}

	best := make(map[string]model.E14Record)
	for _, r := range latest {
		cur, ok := best[r.MesaCode]
		if !ok || r.Source.Trust() > cur.Source.Trust() {
			best[r.MesaCode] = r
		}
	}

	totals := make(map[string]int)
	for _, r := range best {
		for candidate, votes := range r.CandidateVotes {
			totals[candidate] += votes
		}
	}

	out := make([]CandidateTotal, 0, len(totals))
	for candidate, votes := range totals {
		out = append(out, CandidateTotal{Candidate: candidate, Votes: votes})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Votes != out[j].Votes {
			return out[i].Votes > out[j].Votes
		}
		return out[i].Candidate < out[j].Candidate
	})
	return out, nil
}

func coverage(reported, total int) (float64, string) {
	if total == 0 {
		return 0, "--"
	}
	pct := float64(reported) / float64(total) * 100
	return pct, fmt.Sprintf("%.1f%%", pct)
}
