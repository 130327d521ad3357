package incident

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veeduria-co/warroom-cli/internal/config"
	"github.com/veeduria-co/warroom-cli/internal/model"
	"github.com/veeduria-co/warroom-cli/internal/store"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	_, err = s.UpsertMesas(context.Background(), []model.Mesa{{
		Code: "05001-01-01-003", Dept: "05", Muni: "05001", Zona: "01",
		Puesto: "01", MesaNumber: "003", ContestID: "2026-senado",
		StaticRisk: model.StaticRiskNormal,
	}})
	require.NoError(t, err)

	m := New(s, config.SLAConfig{
		P0: 5 * time.Minute, P1: 10 * time.Minute,
		P2: 30 * time.Minute, P3: 120 * time.Minute,
	})
	return m, s
}

func TestOpenSetsSLADeadline(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	before := time.Now().UTC()
	inc, created, err := m.Open(ctx, "05001-01-01-003", model.IncidentArithmeticFail,
		model.SeverityP1, "sum mismatch", "", "")
	require.NoError(t, err)
	assert.True(t, created)

	// P1 window is 10 minutes, anchored at creation.
	assert.WithinDuration(t, before.Add(10*time.Minute), inc.SLADeadline, 5*time.Second)
	assert.False(t, inc.SLABreached(time.Now().UTC()))
	assert.Greater(t, inc.SLARemaining(time.Now().UTC()), 9*time.Minute)
}

func TestOpenUnknownType(t *testing.T) {
	m, _ := newTestManager(t)

	_, _, err := m.Open(context.Background(), "05001-01-01-003", "BALLOT_EATEN",
		model.SeverityP1, "x", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestOpenAttachKeepsDeadline(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, _, err := m.Open(ctx, "05001-01-01-003", model.IncidentOCRLowConf,
		model.SeverityP2, "confidence 0.41", "", "")
	require.NoError(t, err)

	again, created, err := m.Open(ctx, "05001-01-01-003", model.IncidentOCRLowConf,
		model.SeverityP2, "confidence 0.39 on v2", "v2", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.Occurrences)
	// The SLA clock never restarts on attach.
	assert.WithinDuration(t, first.SLADeadline, again.SLADeadline, time.Second)
}

func TestResolveRequiresNotes(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	inc, _, err := m.Open(ctx, "05001-01-01-003", model.IncidentArithmeticFail,
		model.SeverityP1, "sum mismatch", "", "")
	require.NoError(t, err)

	_, err = m.Resolve(ctx, inc.ID, "analyst-7", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notes required")

	resolved, err := m.Resolve(ctx, inc.ID, "analyst-7", "retranscribed, totals level")
	require.NoError(t, err)
	assert.Equal(t, model.IncidentResolved, resolved.Status)
	assert.Equal(t, "retranscribed, totals level", resolved.ResolutionNotes)
}

func TestEscalateRequiresReason(t *testing.T) {
	m, s := newTestManager(t)
	ctx := context.Background()

	inc, _, err := m.Open(ctx, "05001-01-01-003", model.IncidentDiscrepancyRNEC,
		model.SeverityP0, "delta 17%", "", "")
	require.NoError(t, err)

	_, err = m.Escalate(ctx, inc.ID, "coordinator-1", "", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reason required")

	escalated, err := m.Escalate(ctx, inc.ID, "coordinator-1", "official delta persists after recount", true)
	require.NoError(t, err)
	assert.Equal(t, model.IncidentEscalated, escalated.Status)
	assert.True(t, escalated.ToLegal)

	events, err := s.ListIncidentEvents(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.IncidentEscalated, events[1].ToStatus)
	assert.Equal(t, "coordinator-1", events[1].Actor)
}

func TestTerminalIncidentsAreImmutable(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	inc, _, err := m.Open(ctx, "05001-01-01-003", model.IncidentArithmeticFail,
		model.SeverityP1, "sum mismatch", "", "")
	require.NoError(t, err)
	_, err = m.Resolve(ctx, inc.ID, "analyst-7", "fixed")
	require.NoError(t, err)

	_, err = m.Resolve(ctx, inc.ID, "analyst-7", "fixed again")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = m.Escalate(ctx, inc.ID, "coordinator-1", "second thoughts", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestReopenCreatesLinkedIncident(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	inc, _, err := m.Open(ctx, "05001-01-01-003", model.IncidentArithmeticFail,
		model.SeverityP1, "sum mismatch", "", "")
	require.NoError(t, err)
	_, err = m.Resolve(ctx, inc.ID, "analyst-7", "fixed")
	require.NoError(t, err)

	reopened, err := m.Reopen(ctx, inc.ID, "analyst-7", "mismatch back on v3")
	require.NoError(t, err)
	assert.NotEqual(t, inc.ID, reopened.ID)
	assert.Equal(t, inc.ID, reopened.ReopenedFrom)
	assert.Equal(t, model.IncidentOpen, reopened.Status)
	assert.Equal(t, "mismatch back on v3", reopened.Summary)
}

func TestReopenRejectsActiveIncident(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	inc, _, err := m.Open(ctx, "05001-01-01-003", model.IncidentArithmeticFail,
		model.SeverityP1, "sum mismatch", "", "")
	require.NoError(t, err)

	_, err = m.Reopen(ctx, inc.ID, "analyst-7", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestDecorateBreach(t *testing.T) {
	now := time.Now().UTC()
	inc := model.Incident{
		ID: "inc-1", Severity: model.SeverityP0,
		SLADeadline: now.Add(-time.Minute),
	}

	v := Decorate(inc, now)
	assert.True(t, v.SLABreached)
	assert.Negative(t, v.SLARemaining)
	// Breach is display-only.
	assert.Equal(t, inc.Status, v.Incident.Status)
}
