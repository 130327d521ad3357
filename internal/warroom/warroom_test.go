package warroom

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veeduria-co/warroom-cli/internal/model"
	"github.com/veeduria-co/warroom-cli/internal/store"
)

func newTestAggregator(t *testing.T) (*Aggregator, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return New(s), s
}

func seedMesa(t *testing.T, s store.Store, code string) {
	t.Helper()
	_, err := s.UpsertMesas(context.Background(), []model.Mesa{{
		Code: code, Dept: code[:2], DeptName: "ANTIOQUIA", Muni: code[:5],
		Zona: code[6:8], Puesto: code[9:11], MesaNumber: code[12:],
		ContestID: "2026-senado", StaticRisk: model.StaticRiskNormal,
	}})
	require.NoError(t, err)
}

func appendRecord(t *testing.T, s store.Store, mesaCode string, src model.Source, votes map[string]int) {
	t.Helper()
	_, err := s.AppendRecord(context.Background(), &model.E14Record{
		MesaCode: mesaCode, Source: src, CandidateVotes: votes,
		OverallConfidence: 1.0,
	}, nil)
	require.NoError(t, err)
}

func TestSnapshotEmpty(t *testing.T) {
	a, _ := newTestAggregator(t)

	snap, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.TotalMesas)
	assert.Zero(t, snap.CoveragePct)
	assert.Equal(t, "--", snap.CoverageLabel)
	assert.Empty(t, snap.Candidates)
	assert.Zero(t, snap.OpenIncidents)
	assert.False(t, snap.GeneratedAt.IsZero())
}

func TestSnapshotCoverage(t *testing.T) {
	a, s := newTestAggregator(t)
	seedMesa(t, s, "05001-01-01-003")
	seedMesa(t, s, "05001-01-01-004")
	seedMesa(t, s, "05001-01-01-005")
	seedMesa(t, s, "05001-01-01-006")

	appendRecord(t, s, "05001-01-01-003", model.SourceTestigo, map[string]int{"C001": 100})

	snap, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, snap.TotalMesas)
	assert.Equal(t, 1, snap.MesasReported)
	assert.InDelta(t, 25.0, snap.CoveragePct, 0.01)
	assert.Equal(t, "25.0%", snap.CoverageLabel)

	require.Len(t, snap.Depts, 1)
	assert.Equal(t, "ANTIOQUIA", snap.Depts[0].DeptName)
	assert.InDelta(t, 25.0, snap.Depts[0].CoveragePct, 0.01)
}

func TestSnapshotCandidateTotalsUseBestTrust(t *testing.T) {
	a, s := newTestAggregator(t)
	seedMesa(t, s, "05001-01-01-003")
	seedMesa(t, s, "05001-01-01-004")

	// Mesa 003: witness says 90, official says 100. Official wins the total.
	appendRecord(t, s, "05001-01-01-003", model.SourceTestigo, map[string]int{"C001": 90, "C002": 40})
	appendRecord(t, s, "05001-01-01-003", model.SourceRNECOfficial, map[string]int{"C001": 100, "C002": 40})
	// Mesa 004: witness only.
	appendRecord(t, s, "05001-01-01-004", model.SourceTestigo, map[string]int{"C001": 50, "C002": 60})

	snap, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Candidates, 2)
	// Sorted by votes descending: C001 100+50, C002 40+60.
	assert.Equal(t, CandidateTotal{Candidate: "C001", Votes: 150}, snap.Candidates[0])
	assert.Equal(t, CandidateTotal{Candidate: "C002", Votes: 100}, snap.Candidates[1])
}

func TestSnapshotIncidentCounts(t *testing.T) {
	a, s := newTestAggregator(t)
	seedMesa(t, s, "05001-01-01-003")
	ctx := context.Background()

	deadline := time.Now().UTC().Add(10 * time.Minute)
	_, _, err := s.OpenIncident(ctx, &model.Incident{
		MesaCode: "05001-01-01-003", Type: model.IncidentArithmeticFail,
		Severity: model.SeverityP1, Summary: "a", SLADeadline: deadline,
	})
	require.NoError(t, err)
	resolved, _, err := s.OpenIncident(ctx, &model.Incident{
		MesaCode: "05001-01-01-003", Type: model.IncidentOCRLowConf,
		Severity: model.SeverityP2, Summary: "b", SLADeadline: deadline,
	})
	require.NoError(t, err)
	resolved.Status = model.IncidentResolved
	resolved.ResolutionNotes = "retranscribed"
	resolved.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.UpdateIncident(ctx, resolved, model.IncidentOpen, model.IncidentEvent{
		IncidentID: resolved.ID, ToStatus: model.IncidentResolved, Actor: "analyst-7", Notes: "retranscribed",
	}))

	snap, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.IncidentsBySeverity[model.SeverityP1])
	assert.Equal(t, 1, snap.IncidentsByStatus[model.IncidentOpen])
	assert.Equal(t, 1, snap.IncidentsByStatus[model.IncidentResolved])
	assert.Equal(t, 1, snap.OpenIncidents)
	require.Len(t, snap.Depts, 1)
	assert.Equal(t, 1, snap.Depts[0].OpenIncidents)
}
