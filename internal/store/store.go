package store

import (
	"context"
	"time"

	"github.com/veeduria-co/warroom-cli/internal/model"
)

// NoLimit disables the default result cap on listing queries. Scans
// that must see every row (the SLA watch, aggregates) pass it
// explicitly; interactive callers keep the cap.
const NoLimit = -1

// IncidentFilter specifies criteria for listing incidents. A zero Limit
// applies the default cap of 200 rows; NoLimit returns everything.
type IncidentFilter struct {
	MesaCode string               `json:"mesa_code,omitempty"`
	Status   model.IncidentStatus `json:"status,omitempty"`
	Severity model.Severity       `json:"severity,omitempty"`
	Limit    int                  `json:"limit,omitempty"`
	Offset   int                  `json:"offset,omitempty"`
}

// DeptRollup is a per-department aggregate row.
type DeptRollup struct {
	Dept          string `json:"dept"`
	DeptName      string `json:"dept_name"`
	Mesas         int    `json:"mesas"`
	Reported      int    `json:"reported"`
	OpenIncidents int    `json:"open_incidents"`
}

// AggregateStats holds the raw counts the war-room aggregator shapes into
// a dashboard snapshot. Computed on demand, never persisted.
type AggregateStats struct {
	TotalMesas          int                          `json:"total_mesas"`
	MesasReported       int                          `json:"mesas_reported"`
	RecordsBySource     map[model.Source]int         `json:"records_by_source"`
	IncidentsBySeverity map[model.Severity]int       `json:"incidents_by_severity"`
	IncidentsByStatus   map[model.IncidentStatus]int `json:"incidents_by_status"`
	Depts               []DeptRollup                 `json:"depts"`
}

// Store defines the persistence interface for the reconciliation engine.
//
// Multi-row operations (AppendRecord, OpenIncident, ConfirmAssignment,
// TransitionAssignment, UpdateIncident) are transactional: either every
// row lands or none does, and status changes are compare-and-swap guarded
// so racing writers get model.ErrAssignmentConflict or
// model.ErrInvalidTransition instead of silent lost updates.
type Store interface {
	// Mesas
	UpsertMesas(ctx context.Context, mesas []model.Mesa) (int, error)
	GetMesa(ctx context.Context, code string) (*model.Mesa, error)

	// Records. AppendRecord assigns the next version for the record's
	// (mesa_code, source) and persists record plus validations together.
	AppendRecord(ctx context.Context, rec *model.E14Record, checks []model.Validation) (*model.E14Record, error)
	ListRecords(ctx context.Context, mesaCode string) ([]model.E14Record, error)
	// ListLatestRecords returns the newest version per source. An empty
	// mesaCode returns the latest records for every mesa.
	ListLatestRecords(ctx context.Context, mesaCode string) ([]model.E14Record, error)
	ListValidations(ctx context.Context, mesaCode string) ([]model.Validation, error)

	// Incidents. OpenIncident is idempotent on (mesa_code, type) while an
	// incident of that pair is in a non-terminal state: the repeat attaches
	// evidence and may raise severity. The bool reports whether a new
	// incident was created.
	OpenIncident(ctx context.Context, inc *model.Incident) (*model.Incident, bool, error)
	GetIncident(ctx context.Context, id string) (*model.Incident, error)
	ListIncidents(ctx context.Context, f IncidentFilter) ([]model.Incident, error)
	// UpdateIncident persists inc and appends evt, guarded on the incident
	// currently having status expect.
	UpdateIncident(ctx context.Context, inc *model.Incident, expect model.IncidentStatus, evt model.IncidentEvent) error
	ListIncidentEvents(ctx context.Context, incidentID string) ([]model.IncidentEvent, error)

	// Witnesses
	UpsertWitnesses(ctx context.Context, ws []model.Witness) (int, error)
	GetWitness(ctx context.Context, id string) (*model.Witness, error)
	ListWitnesses(ctx context.Context, status model.WitnessStatus) ([]model.Witness, error)
	// AssignmentLoads returns, per witness id, the historical count of
	// non-cancelled assignments, used for dispatch load balancing.
	AssignmentLoads(ctx context.Context) (map[string]int, error)

	// Assignments
	ConfirmAssignment(ctx context.Context, a *model.Assignment) (*model.Assignment, error)
	GetAssignment(ctx context.Context, id string) (*model.Assignment, error)
	ListAssignments(ctx context.Context, incidentID string) ([]model.Assignment, error)
	TransitionAssignment(ctx context.Context, id string, from, to model.AssignmentStatus) (*model.Assignment, error)

	// Risk
	UpsertRiskProfile(ctx context.Context, p *model.RiskProfile) error
	GetRiskProfile(ctx context.Context, mesaCode string) (*model.RiskProfile, error)

	// Aggregates and scans
	AggregateStats(ctx context.Context) (*AggregateStats, error)
	// MesasAwaitingOfficial returns codes of mesas whose earliest non-RNEC
	// record predates cutoff and which still have no official record.
	MesasAwaitingOfficial(ctx context.Context, cutoff time.Time) ([]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
