package model

import (
	"time"
)

// IncidentType is the closed set of conditions that open incidents.
type IncidentType string

const (
	IncidentOCRLowConf       IncidentType = "OCR_LOW_CONF"
	IncidentArithmeticFail   IncidentType = "ARITHMETIC_FAIL"
	IncidentE11VsUrna        IncidentType = "E11_VS_URNA"
	IncidentRecountMarked    IncidentType = "RECOUNT_MARKED"
	IncidentSignatureMissing IncidentType = "SIGNATURE_MISSING"
	IncidentRNECDelay        IncidentType = "RNEC_DELAY"
	IncidentDiscrepancyRNEC  IncidentType = "DISCREPANCY_RNEC"
	IncidentSourceMismatch   IncidentType = "SOURCE_MISMATCH"
)

// IncidentTypes lists every known incident type.
var IncidentTypes = []IncidentType{
	IncidentOCRLowConf,
	IncidentArithmeticFail,
	IncidentE11VsUrna,
	IncidentRecountMarked,
	IncidentSignatureMissing,
	IncidentRNECDelay,
	IncidentDiscrepancyRNEC,
	IncidentSourceMismatch,
}

// Valid reports whether t is a known incident type.
func (t IncidentType) Valid() bool {
	for _, known := range IncidentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity is the operational priority of an incident.
type Severity string

const (
	SeverityP0 Severity = "P0"
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
)

// severityRank orders severities for comparison; lower rank is more urgent.
var severityRank = map[Severity]int{
	SeverityP0: 0,
	SeverityP1: 1,
	SeverityP2: 2,
	SeverityP3: 3,
}

// MoreUrgentThan reports whether s outranks other.
func (s Severity) MoreUrgentThan(other Severity) bool {
	return severityRank[s] < severityRank[other]
}

// defaultSeverity maps each incident type to its base severity.
var defaultSeverity = map[IncidentType]Severity{
	IncidentOCRLowConf:       SeverityP2,
	IncidentArithmeticFail:   SeverityP1,
	IncidentE11VsUrna:        SeverityP1,
	IncidentRecountMarked:    SeverityP2,
	IncidentSignatureMissing: SeverityP2,
	IncidentRNECDelay:        SeverityP3,
	IncidentDiscrepancyRNEC:  SeverityP1,
	IncidentSourceMismatch:   SeverityP1,
}

// DefaultSeverity returns the base severity for an incident type.
func DefaultSeverity(t IncidentType) Severity {
	if s, ok := defaultSeverity[t]; ok {
		return s
	}
	return SeverityP3
}

// IncidentStatus is the incident state machine state.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "OPEN"
	IncidentAssigned      IncidentStatus = "ASSIGNED"
	IncidentInvestigating IncidentStatus = "INVESTIGATING"
	IncidentResolved      IncidentStatus = "RESOLVED"
	IncidentEscalated     IncidentStatus = "ESCALATED"
)

// Terminal reports whether the status admits no further transitions.
func (s IncidentStatus) Terminal() bool {
	return s == IncidentResolved || s == IncidentEscalated
}

// Active reports whether the status counts for the idempotent-open key:
// a new occurrence of (mesa, type) attaches to an incident in one of
// these states instead of opening a duplicate.
func (s IncidentStatus) Active() bool {
	return s == IncidentOpen || s == IncidentAssigned || s == IncidentInvestigating
}

// Incident is a tracked, SLA-bound anomaly on one mesa.
type Incident struct {
	ID              string         `json:"id"`
	MesaCode        string         `json:"mesa_code"`
	Type            IncidentType   `json:"type"`
	Severity        Severity       `json:"severity"`
	Status          IncidentStatus `json:"status"`
	Summary         string         `json:"summary"`
	Evidence        string         `json:"evidence,omitempty"`
	Occurrences     int            `json:"occurrences"`
	SLADeadline     time.Time      `json:"sla_deadline"`
	AssignedTo      string         `json:"assigned_to,omitempty"`
	ResolutionNotes string         `json:"resolution_notes,omitempty"`
	EscalationReason string        `json:"escalation_reason,omitempty"`
	ToLegal         bool           `json:"to_legal,omitempty"`
	ReopenedFrom    string         `json:"reopened_from,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// SLARemaining returns the time left before the SLA deadline at the given
// instant. Negative means breached. Display-only: breach never mutates
// the incident.
func (i *Incident) SLARemaining(now time.Time) time.Duration {
	return i.SLADeadline.Sub(now)
}

// SLABreached reports whether the deadline has passed at now.
func (i *Incident) SLABreached(now time.Time) bool {
	return now.After(i.SLADeadline)
}

// IncidentEvent is one row of an incident's append-only audit trail.
type IncidentEvent struct {
	ID         string         `json:"id"`
	IncidentID string         `json:"incident_id"`
	FromStatus IncidentStatus `json:"from_status,omitempty"`
	ToStatus   IncidentStatus `json:"to_status"`
	Actor      string         `json:"actor"`
	Notes      string         `json:"notes,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// SLAWindows maps severity to its resolution window.
type SLAWindows map[Severity]time.Duration

// DefaultSLAWindows returns the operational defaults.
func DefaultSLAWindows() SLAWindows {
	return SLAWindows{
		SeverityP0: 5 * time.Minute,
		SeverityP1: 10 * time.Minute,
		SeverityP2: 30 * time.Minute,
		SeverityP3: 120 * time.Minute,
	}
}

// Window returns the window for s, falling back to the P3 default.
func (w SLAWindows) Window(s Severity) time.Duration {
	if d, ok := w[s]; ok {
		return d
	}
	return 120 * time.Minute
}
