package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/veeduria-co/warroom-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Serialize writers through one connection; the ingest path is already
	// serialized per mesa above the store, this keeps SQLite happy under
	// the remaining cross-mesa concurrency.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS records (
	id                 TEXT PRIMARY KEY,
	mesa_code          TEXT NOT NULL REFERENCES mesas(code),
	source             TEXT NOT NULL,
	version            INTEGER NOT NULL,
	candidate_votes    TEXT NOT NULL,
	nivelacion         TEXT NOT NULL,
	field_confidence   TEXT,
	overall_confidence REAL NOT NULL,
	recount            TEXT NOT NULL,
	jurados_firmantes  INTEGER NOT NULL DEFAULT 0,
	jurados_total      INTEGER NOT NULL DEFAULT 0,
	received_at        DATETIME NOT NULL,
	UNIQUE (mesa_code, source, version)
);

CREATE TABLE IF NOT EXISTS validations (
	id         TEXT PRIMARY KEY,
	record_id  TEXT NOT NULL REFERENCES records(id),
	mesa_code  TEXT NOT NULL,
	rule       TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	checked_at DATETIME NOT NULL
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
	sla_deadline      DATETIME NOT NULL,
	assigned_to       TEXT NOT NULL DEFAULT '',
	resolution_notes  TEXT NOT NULL DEFAULT '',
	escalation_reason TEXT NOT NULL DEFAULT '',
	to_legal          INTEGER NOT NULL DEFAULT 0,
	reopened_from     TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS incident_events (
	id          TEXT PRIMARY KEY,
	incident_id TEXT NOT NULL REFERENCES incidents(id),
	from_status TEXT NOT NULL DEFAULT '',
	to_status   TEXT NOT NULL,
	actor       TEXT NOT NULL,
	notes       TEXT NOT NULL DEFAULT '',
	occurred_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS witnesses (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	phone        TEXT NOT NULL DEFAULT '',
	coverage     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'available',
	push_enabled INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS assignments (
	id          TEXT PRIMARY KEY,
	witness_id  TEXT NOT NULL REFERENCES witnesses(id),
	incident_id TEXT NOT NULL REFERENCES incidents(id),
	priority    TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'SENT',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_profiles (
	mesa_code            TEXT PRIMARY KEY REFERENCES mesas(code),
	static_level         TEXT NOT NULL,
	composite            TEXT NOT NULL,
	confidence           REAL NOT NULL,
	has_open_discrepancy INTEGER NOT NULL DEFAULT 0,
	computed_at          DATETIME NOT NULL
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Mesas

func (s *SQLiteStore) UpsertMesas(ctx context.Context, mesas []model.Mesa) (int, error) {
	if len(mesas) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert mesas")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mesas (code, dept, dept_name, muni, muni_name, zona, puesto, puesto_name,
			mesa_number, contest_id, static_risk, registered_voters, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET
			dept_name = excluded.dept_name,
			muni_name = excluded.muni_name,
			puesto_name = excluded.puesto_name,
			static_risk = excluded.static_risk,
			registered_voters = excluded.registered_voters`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert mesa")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range mesas {
		m := &mesas[i]
		created := m.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := stmt.ExecContext(ctx,
			m.Code, m.Dept, m.DeptName, m.Muni, m.MuniName, m.Zona, m.Puesto, m.PuestoName,
			m.MesaNumber, m.ContestID, string(m.StaticRisk), m.RegisteredVoters, created,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert mesa %s", m.Code)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert mesas")
	}
	return len(mesas), nil
}

func (s *SQLiteStore) GetMesa(ctx context.Context, code string) (*model.Mesa, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code, dept, dept_name, muni, muni_name, zona, puesto, puesto_name,
			mesa_number, contest_id, static_risk, registered_voters, created_at
		FROM mesas WHERE code = ?`, code)

	var m model.Mesa
	err := row.Scan(&m.Code, &m.Dept, &m.DeptName, &m.Muni, &m.MuniName, &m.Zona,
		&m.Puesto, &m.PuestoName, &m.MesaNumber, &m.ContestID, &m.StaticRisk,
		&m.RegisteredVoters, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: mesa %s", code)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get mesa %s", code)
	}
	return &m, nil
}

// Records

func (s *SQLiteStore) AppendRecord(ctx context.Context, rec *model.E14Record, checks []model.Validation) (*model.E14Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin append record")
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM records WHERE mesa_code = ? AND source = ?`,
		rec.MesaCode, string(rec.Source),
	).Scan(&version)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: next record version")
	}

	out := *rec
	out.ID = uuid.New().String()
	out.Version = version
	if out.ReceivedAt.IsZero() {
		out.ReceivedAt = time.Now().UTC()
	}

	votesJSON, err := json.Marshal(out.CandidateVotes)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal candidate votes")
	}
	nivJSON, err := json.Marshal(out.Nivelacion)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal nivelacion")
	}
	confJSON, err := json.Marshal(out.FieldConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal field confidence")
	}
	recountJSON, err := json.Marshal(out.Recount)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal recount")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (id, mesa_code, source, version, candidate_votes, nivelacion,
			field_confidence, overall_confidence, recount, jurados_firmantes, jurados_total, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.MesaCode, string(out.Source), out.Version, string(votesJSON), string(nivJSON),
		string(confJSON), out.OverallConfidence, string(recountJSON),
		out.JuradosFirmantes, out.JuradosTotal, out.ReceivedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert record %s/%s", out.MesaCode, out.Source)
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
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO validations (id, record_id, mesa_code, rule, outcome, message, checked_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, out.ID, out.MesaCode, string(c.Rule), string(c.Outcome), c.Message, checkedAt,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert validation %s", c.Rule)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit append record")
	}
	return &out, nil
}

const recordColumns = `id, mesa_code, source, version, candidate_votes, nivelacion,
	field_confidence, overall_confidence, recount, jurados_firmantes, jurados_total, received_at`

func (s *SQLiteStore) ListRecords(ctx context.Context, mesaCode string) ([]model.E14Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE mesa_code = ? ORDER BY source, version`,
		mesaCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list records %s", mesaCode)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *SQLiteStore) ListLatestRecords(ctx context.Context, mesaCode string) ([]model.E14Record, error) {
	query := `
		SELECT ` + recordColumns + ` FROM records r
		WHERE version = (
			SELECT MAX(version) FROM records
			WHERE mesa_code = r.mesa_code AND source = r.source
		)`
	var args []any
	if mesaCode != "" {
		query += ` AND mesa_code = ?`
		args = append(args, mesaCode)
	}
	query += ` ORDER BY mesa_code, source`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list latest records")
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]model.E14Record, error) {
	var out []model.E14Record
	for rows.Next() {
		var r model.E14Record
		var votesJSON, nivJSON, recountJSON string
		var confJSON sql.NullString
		err := rows.Scan(&r.ID, &r.MesaCode, &r.Source, &r.Version, &votesJSON, &nivJSON,
			&confJSON, &r.OverallConfidence, &recountJSON, &r.JuradosFirmantes, &r.JuradosTotal, &r.ReceivedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		if err := json.Unmarshal([]byte(votesJSON), &r.CandidateVotes); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal candidate votes")
		}
		if err := json.Unmarshal([]byte(nivJSON), &r.Nivelacion); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal nivelacion")
		}
		if confJSON.Valid && confJSON.String != "null" {
			if err := json.Unmarshal([]byte(confJSON.String), &r.FieldConfidence); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal field confidence")
			}
		}
		if err := json.Unmarshal([]byte(recountJSON), &r.Recount); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal recount")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) ListValidations(ctx context.Context, mesaCode string) ([]model.Validation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, rule, outcome, message, checked_at
		FROM validations WHERE mesa_code = ? ORDER BY checked_at, rule`,
		mesaCode,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list validations %s", mesaCode)
	}
	defer rows.Close()

	var out []model.Validation
	for rows.Next() {
		var v model.Validation
		if err := rows.Scan(&v.ID, &v.RecordID, &v.Rule, &v.Outcome, &v.Message, &v.CheckedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan validation")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate validations")
}

// Incidents

const incidentColumns = `id, mesa_code, type, severity, status, summary, evidence, occurrences,
	sla_deadline, assigned_to, resolution_notes, escalation_reason, to_legal, reopened_from,
	created_at, updated_at`

func (s *SQLiteStore) OpenIncident(ctx context.Context, inc *model.Incident) (*model.Incident, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: begin open incident")
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	existing, err := scanIncident(tx.QueryRowContext(ctx, `
		SELECT `+incidentColumns+` FROM incidents
		WHERE mesa_code = ? AND type = ? AND status IN ('OPEN', 'ASSIGNED', 'INVESTIGATING')
		LIMIT 1`,
		inc.MesaCode, string(inc.Type),
	))
	if err != nil && !eris.Is(err, model.ErrNotFound) {
		return nil, false, err
	}

	if existing != nil {
		// Attach evidence to the already-open incident instead of opening
		// a duplicate. Severity may only move toward more urgent.
		existing.Occurrences++
		if inc.Evidence != "" {
			existing.Evidence = inc.Evidence
		}
		if inc.Severity.MoreUrgentThan(existing.Severity) {
			existing.Severity = inc.Severity
		}
		existing.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE incidents SET occurrences = ?, evidence = ?, severity = ?, updated_at = ?
			WHERE id = ?`,
			existing.Occurrences, existing.Evidence, string(existing.Severity), now, existing.ID,
		)
		if err != nil {
			return nil, false, eris.Wrapf(err, "sqlite: attach incident %s", existing.ID)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, eris.Wrap(err, "sqlite: commit attach incident")
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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO incidents (`+incidentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.MesaCode, string(out.Type), string(out.Severity), string(out.Status),
		out.Summary, out.Evidence, out.Occurrences, out.SLADeadline, out.AssignedTo,
		out.ResolutionNotes, out.EscalationReason, boolToInt(out.ToLegal), out.ReopenedFrom,
		out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: insert incident %s/%s", out.MesaCode, out.Type)
	}

	if err := insertIncidentEventTx(ctx, tx, model.IncidentEvent{
		IncidentID: out.ID,
		ToStatus:   model.IncidentOpen,
		Actor:      "system",
		Notes:      out.Summary,
		OccurredAt: out.CreatedAt,
	}); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: commit open incident")
	}
	return &out, true, nil
}

func (s *SQLiteStore) GetIncident(ctx context.Context, id string) (*model.Incident, error) {
	inc, err := scanIncident(s.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get incident %s", id)
	}
	return inc, nil
}

func (s *SQLiteStore) ListIncidents(ctx context.Context, f IncidentFilter) ([]model.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	var args []any
	if f.MesaCode != "" {
		query += ` AND mesa_code = ?`
		args = append(args, f.MesaCode)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(f.Severity))
	}
	query += ` ORDER BY severity, created_at`

	limit := f.Limit
	if limit == 0 {
		limit = 200
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
		if f.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list incidents")
	}
	defer rows.Close()

	var out []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate incidents")
}

func (s *SQLiteStore) UpdateIncident(ctx context.Context, inc *model.Incident, expect model.IncidentStatus, evt model.IncidentEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin update incident")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE incidents SET severity = ?, status = ?, summary = ?, evidence = ?, occurrences = ?,
			assigned_to = ?, resolution_notes = ?, escalation_reason = ?, to_legal = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(inc.Severity), string(inc.Status), inc.Summary, inc.Evidence, inc.Occurrences,
		inc.AssignedTo, inc.ResolutionNotes, inc.EscalationReason, boolToInt(inc.ToLegal),
		inc.UpdatedAt, inc.ID, string(expect),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update incident %s", inc.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		// Either the incident is gone or another writer transitioned it.
		if _, getErr := scanIncident(tx.QueryRowContext(ctx,
			`SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, inc.ID)); getErr != nil {
			return eris.Wrapf(model.ErrNotFound, "sqlite: incident %s", inc.ID)
		}
		return eris.Wrapf(model.ErrInvalidTransition, "sqlite: incident %s not in %s", inc.ID, expect)
	}

	if err := insertIncidentEventTx(ctx, tx, evt); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit update incident")
}

func (s *SQLiteStore) ListIncidentEvents(ctx context.Context, incidentID string) ([]model.IncidentEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, from_status, to_status, actor, notes, occurred_at
		FROM incident_events WHERE incident_id = ? ORDER BY occurred_at, id`,
		incidentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list incident events %s", incidentID)
	}
	defer rows.Close()

	var out []model.IncidentEvent
	for rows.Next() {
		var e model.IncidentEvent
		if err := rows.Scan(&e.ID, &e.IncidentID, &e.FromStatus, &e.ToStatus, &e.Actor, &e.Notes, &e.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan incident event")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate incident events")
}

// Witnesses

func (s *SQLiteStore) UpsertWitnesses(ctx context.Context, ws []model.Witness) (int, error) {
	if len(ws) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert witnesses")
	}
	defer tx.Rollback()

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
			return 0, eris.Wrapf(err, "sqlite: marshal coverage %s", w.ID)
		}
		// Registration updates identity and coverage only; live status
		// stays owned by the dispatch engine.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO witnesses (id, name, phone, coverage, status, push_enabled, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				phone = excluded.phone,
				coverage = excluded.coverage,
				push_enabled = excluded.push_enabled`,
			w.ID, w.Name, w.Phone, string(coverageJSON), string(w.Status), boolToInt(w.PushEnabled), created,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert witness %s", w.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert witnesses")
	}
	return len(ws), nil
}

const witnessColumns = `id, name, phone, coverage, status, push_enabled, created_at`

func (s *SQLiteStore) GetWitness(ctx context.Context, id string) (*model.Witness, error) {
	w, err := scanWitness(s.db.QueryRowContext(ctx,
		`SELECT `+witnessColumns+` FROM witnesses WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get witness %s", id)
	}
	return w, nil
}

func (s *SQLiteStore) ListWitnesses(ctx context.Context, status model.WitnessStatus) ([]model.Witness, error) {
	query := `SELECT ` + witnessColumns + ` FROM witnesses`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list witnesses")
	}
	defer rows.Close()

	var out []model.Witness
	for rows.Next() {
		w, err := scanWitness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate witnesses")
}

func (s *SQLiteStore) AssignmentLoads(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT witness_id, COUNT(*) FROM assignments
		WHERE status != 'CANCELLED' GROUP BY witness_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: assignment loads")
	}
	defer rows.Close()

	loads := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assignment load")
		}
		loads[id] = n
	}
	return loads, eris.Wrap(rows.Err(), "sqlite: iterate assignment loads")
}

// Assignments

const assignmentColumns = `id, witness_id, incident_id, priority, reason, status, created_at, updated_at`

func (s *SQLiteStore) ConfirmAssignment(ctx context.Context, a *model.Assignment) (*model.Assignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin confirm assignment")
	}
	defer tx.Rollback()

	// Idempotence: an already-active assignment for the same pair is the
	// answer; one for a different incident is a double-booking.
	existing, err := scanAssignment(tx.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM assignments
		WHERE witness_id = ? AND status IN ('SENT', 'ACCEPTED') LIMIT 1`,
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
			"sqlite: witness %s already holds assignment %s", a.WitnessID, existing.ID)
	}

	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx,
		`UPDATE witnesses SET status = 'busy' WHERE id = ? AND status = 'available'`,
		a.WitnessID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: book witness %s", a.WitnessID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := scanWitness(tx.QueryRowContext(ctx,
			`SELECT `+witnessColumns+` FROM witnesses WHERE id = ?`, a.WitnessID)); getErr != nil {
			return nil, eris.Wrapf(model.ErrNotFound, "sqlite: witness %s", a.WitnessID)
		}
		return nil, eris.Wrapf(model.ErrAssignmentConflict, "sqlite: witness %s not available", a.WitnessID)
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE incidents SET status = 'ASSIGNED', assigned_to = ?, updated_at = ? WHERE id = ? AND status = 'OPEN'`,
		a.WitnessID, now, a.IncidentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: assign incident %s", a.IncidentID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := scanIncident(tx.QueryRowContext(ctx,
			`SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, a.IncidentID)); getErr != nil {
			return nil, eris.Wrapf(model.ErrNotFound, "sqlite: incident %s", a.IncidentID)
		}
		return nil, eris.Wrapf(model.ErrAssignmentConflict, "sqlite: incident %s not open", a.IncidentID)
	}

	out := *a
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.Status = model.AssignmentSent
	out.CreatedAt = now
	out.UpdatedAt = now
	_, err = tx.ExecContext(ctx, `
		INSERT INTO assignments (`+assignmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.WitnessID, out.IncidentID, string(out.Priority), out.Reason,
		string(out.Status), out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert assignment")
	}

	if err := insertIncidentEventTx(ctx, tx, model.IncidentEvent{
		IncidentID: out.IncidentID,
		FromStatus: model.IncidentOpen,
		ToStatus:   model.IncidentAssigned,
		Actor:      "dispatch",
		Notes:      out.Reason,
		OccurredAt: now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit confirm assignment")
	}
	return &out, nil
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	a, err := scanAssignment(s.db.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get assignment %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) ListAssignments(ctx context.Context, incidentID string) ([]model.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments`
	var args []any
	if incidentID != "" {
		query += ` WHERE incident_id = ?`
		args = append(args, incidentID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assignments")
	}
	defer rows.Close()

	var out []model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate assignments")
}

func (s *SQLiteStore) TransitionAssignment(ctx context.Context, id string, from, to model.AssignmentStatus) (*model.Assignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin transition assignment")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE assignments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), now, id, string(from),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: transition assignment %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// A cancel racing an acceptance (or vice versa) loses the CAS and
		// surfaces as an explicit conflict, never a silent drop.
		if _, getErr := scanAssignment(tx.QueryRowContext(ctx,
			`SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id)); getErr != nil {
			return nil, eris.Wrapf(model.ErrNotFound, "sqlite: assignment %s", id)
		}
		return nil, eris.Wrapf(model.ErrAssignmentConflict, "sqlite: assignment %s not in %s", id, from)
	}

	a, err := scanAssignment(tx.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}

	// Terminal transitions release the witness; rejection and cancellation
	// also put the incident back in the dispatch pool.
	switch to {
	case model.AssignmentRejected, model.AssignmentCompleted, model.AssignmentCancelled:
		if _, err := tx.ExecContext(ctx,
			`UPDATE witnesses SET status = 'available' WHERE id = ?`, a.WitnessID); err != nil {
			return nil, eris.Wrapf(err, "sqlite: release witness %s", a.WitnessID)
		}
	}
	switch to {
	case model.AssignmentAccepted:
		res, err := tx.ExecContext(ctx, `
			UPDATE incidents SET status = 'INVESTIGATING', updated_at = ? WHERE id = ? AND status = 'ASSIGNED'`,
			now, a.IncidentID)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: incident investigating %s", a.IncidentID)
		}
		// Resolved or escalated mid-flight leaves the incident alone; no
		// event is recorded for a transition that never happened.
		if n, _ := res.RowsAffected(); n > 0 {
			if err := insertIncidentEventTx(ctx, tx, model.IncidentEvent{
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
		if err := tx.QueryRowContext(ctx,
			`SELECT status FROM incidents WHERE id = ?`, a.IncidentID).Scan(&prior); err != nil {
			return nil, eris.Wrapf(err, "sqlite: incident status %s", a.IncidentID)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE incidents SET status = 'OPEN', assigned_to = '', updated_at = ?
			WHERE id = ? AND status IN ('ASSIGNED', 'INVESTIGATING')`,
			now, a.IncidentID)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: reopen incident %s", a.IncidentID)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if err := insertIncidentEventTx(ctx, tx, model.IncidentEvent{
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

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit transition assignment")
	}
	return a, nil
}

// Risk

func (s *SQLiteStore) UpsertRiskProfile(ctx context.Context, p *model.RiskProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_profiles (mesa_code, static_level, composite, confidence, has_open_discrepancy, computed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (mesa_code) DO UPDATE SET
			static_level = excluded.static_level,
			composite = excluded.composite,
			confidence = excluded.confidence,
			has_open_discrepancy = excluded.has_open_discrepancy,
			computed_at = excluded.computed_at`,
		p.MesaCode, string(p.StaticLevel), string(p.Composite), p.Confidence,
		boolToInt(p.HasOpenDiscrepancy), p.ComputedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert risk profile %s", p.MesaCode)
}

func (s *SQLiteStore) GetRiskProfile(ctx context.Context, mesaCode string) (*model.RiskProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT mesa_code, static_level, composite, confidence, has_open_discrepancy, computed_at
		FROM risk_profiles WHERE mesa_code = ?`, mesaCode)

	var p model.RiskProfile
	var disc int
	err := row.Scan(&p.MesaCode, &p.StaticLevel, &p.Composite, &p.Confidence, &disc, &p.ComputedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: risk profile %s", mesaCode)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get risk profile %s", mesaCode)
	}
	p.HasOpenDiscrepancy = disc != 0
	return &p, nil
}

// Aggregates

func (s *SQLiteStore) AggregateStats(ctx context.Context) (*AggregateStats, error) {
	stats := &AggregateStats{
		RecordsBySource:     make(map[model.Source]int),
		IncidentsBySeverity: make(map[model.Severity]int),
		IncidentsByStatus:   make(map[model.IncidentStatus]int),
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mesas`).Scan(&stats.TotalMesas); err != nil {
		return nil, eris.Wrap(err, "sqlite: count mesas")
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT mesa_code) FROM records`).Scan(&stats.MesasReported); err != nil {
		return nil, eris.Wrap(err, "sqlite: count reported mesas")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(DISTINCT mesa_code) FROM records GROUP BY source`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: records by source")
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan records by source")
		}
		stats.RecordsBySource[model.Source(src)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate records by source")
	}

	sevRows, err := s.db.QueryContext(ctx, `SELECT severity, COUNT(*) FROM incidents GROUP BY severity`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: incidents by severity")
	}
	defer sevRows.Close()
	for sevRows.Next() {
		var sev string
		var n int
		if err := sevRows.Scan(&sev, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan incidents by severity")
		}
		stats.IncidentsBySeverity[model.Severity(sev)] = n
	}
	if err := sevRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate incidents by severity")
	}

	stRows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM incidents GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: incidents by status")
	}
	defer stRows.Close()
	for stRows.Next() {
		var st string
		var n int
		if err := stRows.Scan(&st, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan incidents by status")
		}
		stats.IncidentsByStatus[model.IncidentStatus(st)] = n
	}
	if err := stRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate incidents by status")
	}

	deptRows, err := s.db.QueryContext(ctx, `
		SELECT m.dept, MAX(m.dept_name), COUNT(DISTINCT m.code),
			COUNT(DISTINCT r.mesa_code),
			COUNT(DISTINCT CASE WHEN i.status IN ('OPEN', 'ASSIGNED', 'INVESTIGATING') THEN i.id END)
		FROM mesas m
		LEFT JOIN records r ON r.mesa_code = m.code
		LEFT JOIN incidents i ON i.mesa_code = m.code
		GROUP BY m.dept ORDER BY m.dept`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dept rollups")
	}
	defer deptRows.Close()
	for deptRows.Next() {
		var d DeptRollup
		if err := deptRows.Scan(&d.Dept, &d.DeptName, &d.Mesas, &d.Reported, &d.OpenIncidents); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dept rollup")
		}
		stats.Depts = append(stats.Depts, d)
	}
	if err := deptRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate dept rollups")
	}

	return stats, nil
}

func (s *SQLiteStore) MesasAwaitingOfficial(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mesa_code FROM records
		WHERE source != 'RNEC_OFFICIAL'
		GROUP BY mesa_code
		HAVING MIN(received_at) <= ?
			AND mesa_code NOT IN (SELECT mesa_code FROM records WHERE source = 'RNEC_OFFICIAL')
		ORDER BY mesa_code`,
		cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: mesas awaiting official")
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan awaiting mesa")
		}
		codes = append(codes, code)
	}
	return codes, eris.Wrap(rows.Err(), "sqlite: iterate awaiting mesas")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanIncident(row scannable) (*model.Incident, error) {
	var inc model.Incident
	var toLegal int
	err := row.Scan(&inc.ID, &inc.MesaCode, &inc.Type, &inc.Severity, &inc.Status,
		&inc.Summary, &inc.Evidence, &inc.Occurrences, &inc.SLADeadline, &inc.AssignedTo,
		&inc.ResolutionNotes, &inc.EscalationReason, &toLegal, &inc.ReopenedFrom,
		&inc.CreatedAt, &inc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "incident")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan incident")
	}
	inc.ToLegal = toLegal != 0
	return &inc, nil
}

func scanWitness(row scannable) (*model.Witness, error) {
	var w model.Witness
	var coverageJSON string
	var push int
	err := row.Scan(&w.ID, &w.Name, &w.Phone, &coverageJSON, &w.Status, &push, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "witness")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan witness")
	}
	if err := json.Unmarshal([]byte(coverageJSON), &w.Coverage); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal coverage")
	}
	w.PushEnabled = push != 0
	return &w, nil
}

func scanAssignment(row scannable) (*model.Assignment, error) {
	var a model.Assignment
	err := row.Scan(&a.ID, &a.WitnessID, &a.IncidentID, &a.Priority, &a.Reason,
		&a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "assignment")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan assignment")
	}
	return &a, nil
}

func insertIncidentEventTx(ctx context.Context, tx *sql.Tx, evt model.IncidentEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO incident_events (id, incident_id, from_status, to_status, actor, notes, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, evt.IncidentID, string(evt.FromStatus), string(evt.ToStatus), evt.Actor, evt.Notes, evt.OccurredAt,
	)
	return eris.Wrap(err, "sqlite: insert incident event")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
