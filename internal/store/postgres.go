package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/veeduria-co/warroom-cli/internal/db"
	"github.com/veeduria-co/warroom-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. It is the backend for
// shared war-room deployments where many dashboard readers poll one
// database.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS mesas (
	code              TEXT PRIMARY KEY,
	dept              TEXT NOT NULL,
	dept_name         TEXT NOT NULL DEFAULT '',
	muni              TEXT NOT NULL,
	muni_name         TEXT NOT NULL DEFAULT '',
	zona              TEXT NOT NULL,
	puesto            TEXT NOT NULL,
	puesto_name       TEXT NOT NULL DEFAULT '',
	mesa_number       TEXT NOT NULL,
	contest_id        TEXT NOT NULL,
	static_risk       TEXT NOT NULL DEFAULT 'NORMAL',
	registered_voters INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS records (
	id                 TEXT PRIMARY KEY,
	mesa_code          TEXT NOT NULL REFERENCES mesas(code),
	source             TEXT NOT NULL,
	version            INTEGER NOT NULL,
	candidate_votes    JSONB NOT NULL,
	nivelacion         JSONB NOT NULL,
	field_confidence   JSONB,
	overall_confidence DOUBLE PRECISION NOT NULL,
	recount            JSONB NOT NULL,
	jurados_firmantes  INTEGER NOT NULL DEFAULT 0,
	jurados_total      INTEGER NOT NULL DEFAULT 0,
	received_at        TIMESTAMPTZ NOT NULL,
	UNIQUE (mesa_code, source, version)
);

CREATE TABLE IF NOT EXISTS validations (
	id         TEXT PRIMARY KEY,
	record_id  TEXT NOT NULL REFERENCES records(id),
	mesa_code  TEXT NOT NULL,
	rule       TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	checked_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS incidents (
	id                TEXT PRIMARY KEY,
	mesa_code         TEXT NOT NULL REFERENCES mesas(code),
	type              TEXT NOT NULL,
	severity          TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'OPEN',
	summary           TEXT NOT NULL,
	evidence          TEXT NOT NULL DEFAULT '',
	occurrences       INTEGER NOT NULL DEFAULT 1,
	sla_deadline      TIMESTAMPTZ NOT NULL,
	assigned_to       TEXT NOT NULL DEFAULT '',
	resolution_notes  TEXT NOT NULL DEFAULT '',
	escalation_reason TEXT NOT NULL DEFAULT '',
	to_legal          BOOLEAN NOT NULL DEFAULT FALSE,
	reopened_from     TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS incident_events (
	id          TEXT PRIMARY KEY,
	incident_id TEXT NOT NULL REFERENCES incidents(id),
	from_status TEXT NOT NULL DEFAULT '',
	to_status   TEXT NOT NULL,
	actor       TEXT NOT NULL,
	notes       TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS witnesses (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	phone        TEXT NOT NULL DEFAULT '',
	coverage     JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'available',
	push_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS assignments (
	id          TEXT PRIMARY KEY,
	witness_id  TEXT NOT NULL REFERENCES witnesses(id),
	incident_id TEXT NOT NULL REFERENCES incidents(id),
	priority    TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'SENT',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_profiles (
	mesa_code            TEXT PRIMARY KEY REFERENCES mesas(code),
	static_level         TEXT NOT NULL,
	composite            TEXT NOT NULL,
	confidence           DOUBLE PRECISION NOT NULL,
	has_open_discrepancy BOOLEAN NOT NULL DEFAULT FALSE,
	computed_at          TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_mesa ON records(mesa_code, source, version);
CREATE INDEX IF NOT EXISTS idx_validations_mesa ON validations(mesa_code);
CREATE INDEX IF NOT EXISTS idx_incidents_mesa_type ON incidents(mesa_code, type, status);
CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status, severity);
CREATE INDEX IF NOT EXISTS idx_incident_events_incident ON incident_events(incident_id);
CREATE INDEX IF NOT EXISTS idx_assignments_witness ON assignments(witness_id, status);
CREATE INDEX IF NOT EXISTS idx_assignments_incident ON assignments(incident_id);
CREATE INDEX IF NOT EXISTS idx_mesas_dept ON mesas(dept);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Mesas

var mesaUpsert = db.UpsertConfig{
	Table: "mesas",
	Columns: []string{"code", "dept", "dept_name", "muni", "muni_name", "zona", "puesto",
		"puesto_name", "mesa_number", "contest_id", "static_risk", "registered_voters", "created_at"},
	ConflictKeys: []string{"code"},
	UpdateCols:   []string{"dept_name", "muni_name", "puesto_name", "static_risk", "registered_voters"},
}

func (s *PostgresStore) UpsertMesas(ctx context.Context, mesas []model.Mesa) (int, error) {
	if len(mesas) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(mesas))
	for i := range mesas {
		m := &mesas[i]
		created := m.CreatedAt
		if created.IsZero() {
			created = now
		}
		rows = append(rows, []any{
			m.Code, m.Dept, m.DeptName, m.Muni, m.MuniName, m.Zona, m.Puesto,
			m.PuestoName, m.MesaNumber, m.ContestID, string(m.StaticRisk), m.RegisteredVoters, created,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, mesaUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert mesas")
	}
	return int(n), nil
}

func (s *PostgresStore) GetMesa(ctx context.Context, code string) (*model.Mesa, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT code, dept, dept_name, muni, muni_name, zona, puesto, puesto_name,
			mesa_number, contest_id, static_risk, registered_voters, created_at
		FROM mesas WHERE code = $1`, code)

	var m model.Mesa
	err := row.Scan(&m.Code, &m.Dept, &m.DeptName, &m.Muni, &m.MuniName, &m.Zona,
		&m.Puesto, &m.PuestoName, &m.MesaNumber, &m.ContestID, &m.StaticRisk,
		&m.RegisteredVoters, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: mesa %s", code)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get mesa %s", code)
	}
	return &m, nil
}

// Records

func (s *PostgresStore) AppendRecord(ctx context.Context, rec *model.E14Record, checks []model.Validation) (*model.E14Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin append record")
	}
	defer tx.Rollback(ctx)

	var version int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM records WHERE mesa_code = $1 AND source = $2`,
		rec.MesaCode, string(rec.Source),
	).Scan(&version)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: next record version")
	}

	out := *rec
	out.ID = uuid.New().String()
	out.Version = version
	if out.ReceivedAt.IsZero() {
		out.ReceivedAt = time.Now().UTC()
	}

	votesJSON, err := json.Marshal(out.CandidateVotes)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal candidate votes")
	}
	nivJSON, err := json.Marshal(out.Nivelacion)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal nivelacion")
	}
	confJSON, err := json.Marshal(out.FieldConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal field confidence")
	}
	recountJSON, err := json.Marshal(out.Recount)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal recount")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO records (id, mesa_code, source, version, candidate_votes, nivelacion,
			field_confidence, overall_confidence, recount, jurados_firmantes, jurados_total, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		out.ID, out.MesaCode, string(out.Source), out.Version, string(votesJSON), string(nivJSON),
		string(confJSON), out.OverallConfidence, string(recountJSON),
		out.JuradosFirmantes, out.JuradosTotal, out.ReceivedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert record %s/%s", out.MesaCode, out.Source)
	}

	for i := range checks {
		c := &checks[i]
		id := c.ID
		if id == "" {
			id = uuid.New().String()
		}
		checkedAt := c.CheckedAt
		if checkedAt.IsZero() {
			checkedAt = out.ReceivedAt
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO validations (id, record_id, mesa_code, rule, outcome, message, checked_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, out.ID, out.MesaCode, string(c.Rule), string(c.Outcome), c.Message, checkedAt,
		); err != nil {
			return nil, eris.Wrapf(err, "postgres: insert validation %s", c.Rule)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit append record")
	}
	return &out, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, mesaCode string) ([]model.E14Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM records WHERE mesa_code = $1 ORDER BY source, version`,
		mesaCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list records %s", mesaCode)
	}
	defer rows.Close()
	return collectRecordsPgx(rows)
}

func (s *PostgresStore) ListLatestRecords(ctx context.Context, mesaCode string) ([]model.E14Record, error) {
	query := `
		SELECT DISTINCT ON (mesa_code, source) ` + recordColumns + `
		FROM records`
	var args []any
	if mesaCode != "" {
		query += ` WHERE mesa_code = $1`
		args = append(args, mesaCode)
	}
	query += ` ORDER BY mesa_code, source, version DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list latest records")
	}
	defer rows.Close()
	return collectRecordsPgx(rows)
}

func collectRecordsPgx(rows pgx.Rows) ([]model.E14Record, error) {
	var out []model.E14Record
	for rows.Next() {
		var r model.E14Record
		var votesJSON, nivJSON, recountJSON []byte
		var confJSON []byte
		err := rows.Scan(&r.ID, &r.MesaCode, &r.Source, &r.Version, &votesJSON, &nivJSON,
			&confJSON, &r.OverallConfidence, &recountJSON, &r.JuradosFirmantes, &r.JuradosTotal, &r.ReceivedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		if err := json.Unmarshal(votesJSON, &r.CandidateVotes); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal candidate votes")
		}
		if err := json.Unmarshal(nivJSON, &r.Nivelacion); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal nivelacion")
		}
		if len(confJSON) > 0 && string(confJSON) != "null" {
			if err := json.Unmarshal(confJSON, &r.FieldConfidence); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal field confidence")
			}
		}
		if err := json.Unmarshal(recountJSON, &r.Recount); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal recount")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) ListValidations(ctx context.Context, mesaCode string) ([]model.Validation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, record_id, rule, outcome, message, checked_at
		FROM validations WHERE mesa_code = $1 ORDER BY checked_at, rule`,
		mesaCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list validations %s", mesaCode)
	}
	defer rows.Close()

	var out []model.Validation
	for rows.Next() {
		var v model.Validation
		if err := rows.Scan(&v.ID, &v.RecordID, &v.Rule, &v.Outcome, &v.Message, &v.CheckedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan validation")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate validations")
}

// Incidents

func (s *PostgresStore) OpenIncident(ctx context.Context, inc *model.Incident) (*model.Incident, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: begin open incident")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	existing, err := scanIncidentPgx(tx.QueryRow(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE mesa_code = $1 AND type = $2 AND status IN ('OPEN', 'ASSIGNED', 'INVESTIGATING')
		LIMIT 1 FOR UPDATE`,
		inc.MesaCode, string(inc.Type),
	))
	if err != nil && !eris.Is(err, model.ErrNotFound) {
		return nil, false, err
	}

	if existing != nil {
		existing.Occurrences++
		if inc.Evidence != "" {
			existing.Evidence = inc.Evidence
		}
		if inc.Severity.MoreUrgentThan(existing.Severity) {
			existing.Severity = inc.Severity
		}
		existing.UpdatedAt = now
		_, err = tx.Exec(ctx, `
			UPDATE incidents SET occurrences = $1, evidence = $2, severity = $3, updated_at = $4
			WHERE id = $5`,
			existing.Occurrences, existing.Evidence, string(existing.Severity), now, existing.ID,
		)
		if err != nil {
			return nil, false, eris.Wrapf(err, "postgres: attach incident %s", existing.ID)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, eris.Wrap(err, "postgres: commit attach incident")
		}
		return existing, false, nil
	}

	out := *inc
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.Status = model.IncidentOpen
	out.Occurrences = 1
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = out.CreatedAt

	_, err = tx.Exec(ctx, `
		INSERT INTO incidents (`+incidentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		out.ID, out.MesaCode, string(out.Type), string(out.Severity), string(out.Status),
		out.Summary, out.Evidence, out.Occurrences, out.SLADeadline, out.AssignedTo,
		out.ResolutionNotes, out.EscalationReason, out.ToLegal, out.ReopenedFrom,
		out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: insert incident %s/%s", out.MesaCode, out.Type)
	}

	if err := insertIncidentEventPgx(ctx, tx, model.IncidentEvent{
		IncidentID: out.ID,
		ToStatus:   model.IncidentOpen,
		Actor:      "system",
		Notes:      out.Summary,
		OccurredAt: out.CreatedAt,
	}); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, eris.Wrap(err, "postgres: commit open incident")
	}
	return &out, true, nil
}

func (s *PostgresStore) GetIncident(ctx context.Context, id string) (*model.Incident, error) {
	inc, err := scanIncidentPgx(s.pool.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get incident %s", id)
	}
	return inc, nil
}

func (s *PostgresStore) ListIncidents(ctx context.Context, f IncidentFilter) ([]model.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}
	if f.MesaCode != "" {
		query += ` AND mesa_code = ` + arg(f.MesaCode)
	}
	if f.Status != "" {
		query += ` AND status = ` + arg(string(f.Status))
	}
	if f.Severity != "" {
		query += ` AND severity = ` + arg(string(f.Severity))
	}
	query += ` ORDER BY severity, created_at`

	limit := f.Limit
	if limit == 0 {
		limit = 200
	}
	if limit > 0 {
		query += ` LIMIT ` + arg(limit)
		if f.Offset > 0 {
			query += ` OFFSET ` + arg(f.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list incidents")
	}
	defer rows.Close()

	var out []model.Incident
	for rows.Next() {
		inc, err := scanIncidentPgx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate incidents")
}

func (s *PostgresStore) UpdateIncident(ctx context.Context, inc *model.Incident, expect model.IncidentStatus, evt model.IncidentEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin update incident")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE incidents SET severity = $1, status = $2, summary = $3, evidence = $4, occurrences = $5,
			assigned_to = $6, resolution_notes = $7, escalation_reason = $8, to_legal = $9, updated_at = $10
		WHERE id = $11 AND status = $12`,
		string(inc.Severity), string(inc.Status), inc.Summary, inc.Evidence, inc.Occurrences,
		inc.AssignedTo, inc.ResolutionNotes, inc.EscalationReason, inc.ToLegal,
		inc.UpdatedAt, inc.ID, string(expect),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update incident %s", inc.ID)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := scanIncidentPgx(tx.QueryRow(ctx,
			`SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, inc.ID)); getErr != nil {
			return eris.Wrapf(model.ErrNotFound, "postgres: incident %s", inc.ID)
		}
		return eris.Wrapf(model.ErrInvalidTransition, "postgres: incident %s not in %s", inc.ID, expect)
	}

	if err := insertIncidentEventPgx(ctx, tx, evt); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit update incident")
}

func (s *PostgresStore) ListIncidentEvents(ctx context.Context, incidentID string) ([]model.IncidentEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, incident_id, from_status, to_status, actor, notes, occurred_at
		FROM incident_events WHERE incident_id = $1 ORDER BY occurred_at, id`,
		incidentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list incident events %s", incidentID)
	}
	defer rows.Close()

	var out []model.IncidentEvent
	for rows.Next() {
		var e model.IncidentEvent
		if err := rows.Scan(&e.ID, &e.IncidentID, &e.FromStatus, &e.ToStatus, &e.Actor, &e.Notes, &e.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan incident event")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate incident events")
}

// Witnesses

func (s *PostgresStore) UpsertWitnesses(ctx context.Context, ws []model.Witness) (int, error) {
	if len(ws) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin upsert witnesses")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for i := range ws {
		w := &ws[i]
		if w.Status == "" {
			w.Status = model.WitnessAvailable
		}
		created := w.CreatedAt
		if created.IsZero() {
			created = now
		}
		coverageJSON, err := json.Marshal(w.Coverage)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal coverage %s", w.ID)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO witnesses (id, name, phone, coverage, status, push_enabled, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				phone = EXCLUDED.phone,
				coverage = EXCLUDED.coverage,
				push_enabled = EXCLUDED.push_enabled`,
			w.ID, w.Name, w.Phone, string(coverageJSON), string(w.Status), w.PushEnabled, created,
		); err != nil {
			return 0, eris.Wrapf(err, "postgres: upsert witness %s", w.ID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit upsert witnesses")
	}
	return len(ws), nil
}

func (s *PostgresStore) GetWitness(ctx context.Context, id string) (*model.Witness, error) {
	w, err := scanWitnessPgx(s.pool.QueryRow(ctx,
		`SELECT `+witnessColumns+` FROM witnesses WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get witness %s", id)
	}
	return w, nil
}

func (s *PostgresStore) ListWitnesses(ctx context.Context, status model.WitnessStatus) ([]model.Witness, error) {
	query := `SELECT ` + witnessColumns + ` FROM witnesses`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list witnesses")
	}
	defer rows.Close()

	var out []model.Witness
	for rows.Next() {
		w, err := scanWitnessPgx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate witnesses")
}

func (s *PostgresStore) AssignmentLoads(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT witness_id, COUNT(*) FROM assignments
		WHERE status != 'CANCELLED' GROUP BY witness_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: assignment loads")
	}
	defer rows.Close()

	loads := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan assignment load")
		}
		loads[id] = n
	}
	return loads, eris.Wrap(rows.Err(), "postgres: iterate assignment loads")
}

// Assignments

func (s *PostgresStore) ConfirmAssignment(ctx context.Context, a *model.Assignment) (*model.Assignment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin confirm assignment")
	}
	defer tx.Rollback(ctx)

	existing, err := scanAssignmentPgx(tx.QueryRow(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE witness_id = $1 AND status IN ('SENT', 'ACCEPTED') LIMIT 1 FOR UPDATE`,
		a.WitnessID,
	))
	if err != nil && !eris.Is(err, model.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		if existing.IncidentID == a.IncidentID {
			return existing, nil
		}
		return nil, eris.Wrapf(model.ErrAssignmentConflict,
			"postgres: witness %s already holds assignment %s", a.WitnessID, existing.ID)
	}

	now := time.Now().UTC()

	tag, err := tx.Exec(ctx,
		`UPDATE witnesses SET status = 'busy' WHERE id = $1 AND status = 'available'`,
		a.WitnessID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: book witness %s", a.WitnessID)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := scanWitnessPgx(tx.QueryRow(ctx,
			`SELECT `+witnessColumns+` FROM witnesses WHERE id = $1`, a.WitnessID)); getErr != nil {
			return nil, eris.Wrapf(model.ErrNotFound, "postgres: witness %s", a.WitnessID)
		}
		return nil, eris.Wrapf(model.ErrAssignmentConflict, "postgres: witness %s not available", a.WitnessID)
	}

	tag, err = tx.Exec(ctx,
		`UPDATE incidents SET status = 'ASSIGNED', assigned_to = $1, updated_at = $2 WHERE id = $3 AND status = 'OPEN'`,
		a.WitnessID, now, a.IncidentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: assign incident %s", a.IncidentID)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := scanIncidentPgx(tx.QueryRow(ctx,
			`SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, a.IncidentID)); getErr != nil {
			return nil, eris.Wrapf(model.ErrNotFound, "postgres: incident %s", a.IncidentID)
		}
		return nil, eris.Wrapf(model.ErrAssignmentConflict, "postgres: incident %s not open", a.IncidentID)
	}

	out := *a
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.Status = model.AssignmentSent
	out.CreatedAt = now
	out.UpdatedAt = now
	_, err = tx.Exec(ctx, `
		INSERT INTO assignments (`+assignmentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		out.ID, out.WitnessID, out.IncidentID, string(out.Priority), out.Reason,
		string(out.Status), out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert assignment")
	}

	if err := insertIncidentEventPgx(ctx, tx, model.IncidentEvent{
		IncidentID: out.IncidentID,
		FromStatus: model.IncidentOpen,
		ToStatus:   model.IncidentAssigned,
		Actor:      "dispatch",
		Notes:      out.Reason,
		OccurredAt: now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit confirm assignment")
	}
	return &out, nil
}

func (s *PostgresStore) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	a, err := scanAssignmentPgx(s.pool.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get assignment %s", id)
	}
	return a, nil
}

func (s *PostgresStore) ListAssignments(ctx context.Context, incidentID string) ([]model.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments`
	var args []any
	if incidentID != "" {
		query += ` WHERE incident_id = $1`
		args = append(args, incidentID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assignments")
	}
	defer rows.Close()

	var out []model.Assignment
	for rows.Next() {
		a, err := scanAssignmentPgx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate assignments")
}

func (s *PostgresStore) TransitionAssignment(ctx context.Context, id string, from, to model.AssignmentStatus) (*model.Assignment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin transition assignment")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx,
		`UPDATE assignments SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), now, id, string(from),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: transition assignment %s", id)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := scanAssignmentPgx(tx.QueryRow(ctx,
			`SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id)); getErr != nil {
			return nil, eris.Wrapf(model.ErrNotFound, "postgres: assignment %s", id)
		}
		return nil, eris.Wrapf(model.ErrAssignmentConflict, "postgres: assignment %s not in %s", id, from)
	}

	a, err := scanAssignmentPgx(tx.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	switch to {
	case model.AssignmentRejected, model.AssignmentCompleted, model.AssignmentCancelled:
		if _, err := tx.Exec(ctx,
			`UPDATE witnesses SET status = 'available' WHERE id = $1`, a.WitnessID); err != nil {
			return nil, eris.Wrapf(err, "postgres: release witness %s", a.WitnessID)
		}
	}
	switch to {
	case model.AssignmentAccepted:
		itag, err := tx.Exec(ctx, `
			UPDATE incidents SET status = 'INVESTIGATING', updated_at = $1 WHERE id = $2 AND status = 'ASSIGNED'`,
			now, a.IncidentID)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: incident investigating %s", a.IncidentID)
		}
		// Resolved or escalated mid-flight leaves the incident alone; no
		// event is recorded for a transition that never happened.
		if itag.RowsAffected() > 0 {
			if err := insertIncidentEventPgx(ctx, tx, model.IncidentEvent{
				IncidentID: a.IncidentID,
				FromStatus: model.IncidentAssigned,
				ToStatus:   model.IncidentInvestigating,
				Actor:      a.WitnessID,
				Notes:      "witness acknowledged",
				OccurredAt: now,
			}); err != nil {
				return nil, err
			}
		}
	case model.AssignmentRejected, model.AssignmentCancelled:
		var prior string
		if err := tx.QueryRow(ctx,
			`SELECT status FROM incidents WHERE id = $1`, a.IncidentID).Scan(&prior); err != nil {
			return nil, eris.Wrapf(err, "postgres: incident status %s", a.IncidentID)
		}
		itag, err := tx.Exec(ctx, `
			UPDATE incidents SET status = 'OPEN', assigned_to = '', updated_at = $1
			WHERE id = $2 AND status IN ('ASSIGNED', 'INVESTIGATING')`,
			now, a.IncidentID)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: reopen incident %s", a.IncidentID)
		}
		if itag.RowsAffected() > 0 {
			if err := insertIncidentEventPgx(ctx, tx, model.IncidentEvent{
				IncidentID: a.IncidentID,
				FromStatus: model.IncidentStatus(prior),
				ToStatus:   model.IncidentOpen,
				Actor:      a.WitnessID,
				Notes:      "assignment " + string(to),
				OccurredAt: now,
			}); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit transition assignment")
	}
	return a, nil
}

// Risk

func (s *PostgresStore) UpsertRiskProfile(ctx context.Context, p *model.RiskProfile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO risk_profiles (mesa_code, static_level, composite, confidence, has_open_discrepancy, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (mesa_code) DO UPDATE SET
			static_level = EXCLUDED.static_level,
			composite = EXCLUDED.composite,
			confidence = EXCLUDED.confidence,
			has_open_discrepancy = EXCLUDED.has_open_discrepancy,
			computed_at = EXCLUDED.computed_at`,
		p.MesaCode, string(p.StaticLevel), string(p.Composite), p.Confidence,
		p.HasOpenDiscrepancy, p.ComputedAt,
	)
	return eris.Wrapf(err, "postgres: upsert risk profile %s", p.MesaCode)
}

func (s *PostgresStore) GetRiskProfile(ctx context.Context, mesaCode string) (*model.RiskProfile, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT mesa_code, static_level, composite, confidence, has_open_discrepancy, computed_at
		FROM risk_profiles WHERE mesa_code = $1`, mesaCode)

	var p model.RiskProfile
	err := row.Scan(&p.MesaCode, &p.StaticLevel, &p.Composite, &p.Confidence, &p.HasOpenDiscrepancy, &p.ComputedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: risk profile %s", mesaCode)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get risk profile %s", mesaCode)
	}
	return &p, nil
}

// Aggregates

func (s *PostgresStore) AggregateStats(ctx context.Context) (*AggregateStats, error) {
	stats := &AggregateStats{
		RecordsBySource:     make(map[model.Source]int),
		IncidentsBySeverity: make(map[model.Severity]int),
		IncidentsByStatus:   make(map[model.IncidentStatus]int),
	}

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM mesas`).Scan(&stats.TotalMesas); err != nil {
		return nil, eris.Wrap(err, "postgres: count mesas")
	}
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT mesa_code) FROM records`).Scan(&stats.MesasReported); err != nil {
		return nil, eris.Wrap(err, "postgres: count reported mesas")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source, COUNT(DISTINCT mesa_code) FROM records GROUP BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: records by source")
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan records by source")
		}
		stats.RecordsBySource[model.Source(src)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate records by source")
	}

	sevRows, err := s.pool.Query(ctx, `SELECT severity, COUNT(*) FROM incidents GROUP BY severity`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: incidents by severity")
	}
	defer sevRows.Close()
	for sevRows.Next() {
		var sev string
		var n int
		if err := sevRows.Scan(&sev, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan incidents by severity")
		}
		stats.IncidentsBySeverity[model.Severity(sev)] = n
	}
	if err := sevRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate incidents by severity")
	}

	stRows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM incidents GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: incidents by status")
	}
	defer stRows.Close()
	for stRows.Next() {
		var st string
		var n int
		if err := stRows.Scan(&st, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan incidents by status")
		}
		stats.IncidentsByStatus[model.IncidentStatus(st)] = n
	}
	if err := stRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate incidents by status")
	}

	deptRows, err := s.pool.Query(ctx, `
		SELECT m.dept, MAX(m.dept_name), COUNT(DISTINCT m.code),
			COUNT(DISTINCT r.mesa_code),
			COUNT(DISTINCT CASE WHEN i.status IN ('OPEN', 'ASSIGNED', 'INVESTIGATING') THEN i.id END)
		FROM mesas m
		LEFT JOIN records r ON r.mesa_code = m.code
		LEFT JOIN incidents i ON i.mesa_code = m.code
		GROUP BY m.dept ORDER BY m.dept`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dept rollups")
	}
	defer deptRows.Close()
	for deptRows.Next() {
		var d DeptRollup
		if err := deptRows.Scan(&d.Dept, &d.DeptName, &d.Mesas, &d.Reported, &d.OpenIncidents); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dept rollup")
		}
		stats.Depts = append(stats.Depts, d)
	}
	if err := deptRows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate dept rollups")
	}

	return stats, nil
}

func (s *PostgresStore) MesasAwaitingOfficial(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT mesa_code FROM records
		WHERE source != 'RNEC_OFFICIAL'
		GROUP BY mesa_code
		HAVING MIN(received_at) <= $1
			AND mesa_code NOT IN (SELECT mesa_code FROM records WHERE source = 'RNEC_OFFICIAL')
		ORDER BY mesa_code`,
		cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: mesas awaiting official")
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, eris.Wrap(err, "postgres: scan awaiting mesa")
		}
		codes = append(codes, code)
	}
	return codes, eris.Wrap(rows.Err(), "postgres: iterate awaiting mesas")
}

// helpers

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func scanIncidentPgx(row pgx.Row) (*model.Incident, error) {
	var inc model.Incident
	err := row.Scan(&inc.ID, &inc.MesaCode, &inc.Type, &inc.Severity, &inc.Status,
		&inc.Summary, &inc.Evidence, &inc.Occurrences, &inc.SLADeadline, &inc.AssignedTo,
		&inc.ResolutionNotes, &inc.EscalationReason, &inc.ToLegal, &inc.ReopenedFrom,
		&inc.CreatedAt, &inc.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "incident")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan incident")
	}
	return &inc, nil
}

func scanWitnessPgx(row pgx.Row) (*model.Witness, error) {
	var w model.Witness
	var coverageJSON []byte
	err := row.Scan(&w.ID, &w.Name, &w.Phone, &coverageJSON, &w.Status, &w.PushEnabled, &w.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "witness")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan witness")
	}
	if err := json.Unmarshal(coverageJSON, &w.Coverage); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal coverage")
	}
	return &w, nil
}

func scanAssignmentPgx(row pgx.Row) (*model.Assignment, error) {
	var a model.Assignment
	err := row.Scan(&a.ID, &a.WitnessID, &a.IncidentID, &a.Priority, &a.Reason,
		&a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "assignment")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan assignment")
	}
	return &a, nil
}

func insertIncidentEventPgx(ctx context.Context, tx pgx.Tx, evt model.IncidentEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO incident_events (id, incident_id, from_status, to_status, actor, notes, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		evt.ID, evt.IncidentID, string(evt.FromStatus), string(evt.ToStatus), evt.Actor, evt.Notes, evt.OccurredAt,
	)
	return eris.Wrap(err, "postgres: insert incident event")
}
