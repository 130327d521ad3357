package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veeduria-co/warroom-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetMesa_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM mesas WHERE code = \$1`).
		WithArgs("99999-99-99-999").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetMesa(context.Background(), "99999-99-99-999")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetIncident_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM incidents WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetIncident(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendRecord_AssignsVersion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) \+ 1 FROM records`).
		WithArgs("05001-01-01-003", "TESTIGO").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO records`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	got, err := s.AppendRecord(context.Background(), testRecord("05001-01-01-003", model.SourceTestigo), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Version)
	assert.NotEmpty(t, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateIncident_CASMiss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	inc := &model.Incident{
		ID: "inc-1", Status: model.IncidentResolved, Severity: model.SeverityP1,
		UpdatedAt: time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE incidents SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`FROM incidents WHERE id = \$1`).
		WithArgs("inc-1").
		WillReturnRows(incidentRows("inc-1", string(model.IncidentEscalated)))
	mock.ExpectRollback()

	err := s.UpdateIncident(context.Background(), inc, model.IncidentOpen, model.IncidentEvent{
		IncidentID: "inc-1", ToStatus: model.IncidentResolved, Actor: "analyst-7",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ConfirmAssignment_WitnessBusy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	// The witness already holds an active assignment for another incident.
	mock.ExpectQuery(`FROM assignments\s+WHERE witness_id = \$1 AND status IN`).
		WithArgs("w1").
		WillReturnRows(assignmentRows("a-old", "w1", "inc-other"))
	mock.ExpectRollback()

	_, err := s.ConfirmAssignment(context.Background(), &model.Assignment{
		WitnessID: "w1", IncidentID: "inc-new", Priority: model.SeverityP1,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAssignmentConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ConfirmAssignment_SamePairIdempotent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM assignments\s+WHERE witness_id = \$1 AND status IN`).
		WithArgs("w1").
		WillReturnRows(assignmentRows("a-1", "w1", "inc-1"))
	mock.ExpectRollback()

	got, err := s.ConfirmAssignment(context.Background(), &model.Assignment{
		WitnessID: "w1", IncidentID: "inc-1", Priority: model.SeverityP1,
	})
	require.NoError(t, err)
	assert.Equal(t, "a-1", got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertRiskProfile(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO risk_profiles .+ ON CONFLICT`).
		WithArgs("05001-01-01-003", "HIGH", "CRITICAL", 0.62, true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertRiskProfile(context.Background(), &model.RiskProfile{
		MesaCode: "05001-01-01-003", StaticLevel: model.StaticRiskHigh,
		Composite: model.RiskCritical, Confidence: 0.62,
		HasOpenDiscrepancy: true, ComputedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func incidentRows(id, status string) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows([]string{
		"id", "mesa_code", "type", "severity", "status", "summary", "evidence", "occurrences",
		"sla_deadline", "assigned_to", "resolution_notes", "escalation_reason", "to_legal",
		"reopened_from", "created_at", "updated_at",
	}).AddRow(id, "05001-01-01-003", "ARITHMETIC_FAIL", "P1", status, "sum mismatch", "", 1,
		now.Add(10*time.Minute), "", "", "", false, "", now, now)
}

func assignmentRows(id, witnessID, incidentID string) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows([]string{
		"id", "witness_id", "incident_id", "priority", "reason", "status", "created_at", "updated_at",
	}).AddRow(id, witnessID, incidentID, "P1", "dept coverage", "SENT", now, now)
}
