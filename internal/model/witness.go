package model

import "time"

// WitnessStatus is the live availability of a field witness.
type WitnessStatus string

const (
	WitnessAvailable WitnessStatus = "available"
	WitnessBusy      WitnessStatus = "busy"
)

// Coverage is one geographic coverage entry for a witness. Muni and
// Puesto may be empty; an entry with only Dept matches every mesa in
// that department. The most specific matching entry wins.
type Coverage struct {
	Dept   string `json:"dept" yaml:"dept"`
	Muni   string `json:"muni,omitempty" yaml:"muni,omitempty"`
	Puesto string `json:"puesto,omitempty" yaml:"puesto,omitempty"`
}

// Specificity ranks how narrow the entry is: 3 puesto, 2 muni, 1 dept.
func (c Coverage) Specificity() int {
	switch {
	case c.Puesto != "":
		return 3
	case c.Muni != "":
		return 2
	default:
		return 1
	}
}

// Matches reports whether the entry covers the given mesa and, if so,
// at which specificity (0 means no match).
func (c Coverage) Matches(m *Mesa) int {
	if c.Dept != m.Dept {
		return 0
	}
	if c.Muni != "" && c.Muni != m.Muni {
		return 0
	}
	if c.Puesto != "" && c.Puesto != m.Puesto {
		return 0
	}
	return c.Specificity()
}

// Witness is a deployable field witness. Status is mutated only by the
// dispatch engine; identity and coverage only by the registration flow.
type Witness struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Phone       string        `json:"phone" yaml:"phone"`
	Coverage    []Coverage    `json:"coverage" yaml:"coverage"`
	Status      WitnessStatus `json:"status" yaml:"-"`
	PushEnabled bool          `json:"push_enabled" yaml:"push_enabled"`
	CreatedAt   time.Time     `json:"created_at" yaml:"-"`
}

// BestMatch returns the highest specificity at which the witness covers
// the mesa (0 means not covered).
func (w *Witness) BestMatch(m *Mesa) int {
	best := 0
	for _, c := range w.Coverage {
		if s := c.Matches(m); s > best {
			best = s
		}
	}
	return best
}

// AssignmentStatus is the delivery state of a dispatch assignment.
type AssignmentStatus string

const (
	AssignmentSent      AssignmentStatus = "SENT"
	AssignmentAccepted  AssignmentStatus = "ACCEPTED"
	AssignmentRejected  AssignmentStatus = "REJECTED"
	AssignmentCompleted AssignmentStatus = "COMPLETED"
	AssignmentCancelled AssignmentStatus = "CANCELLED"
)

// ActiveAssignment reports whether the status still books the witness.
func (s AssignmentStatus) Active() bool {
	return s == AssignmentSent || s == AssignmentAccepted
}

// Assignment dispatches one witness to one incident. At most one active
// assignment may exist per witness at any time.
type Assignment struct {
	ID         string           `json:"id"`
	WitnessID  string           `json:"witness_id"`
	IncidentID string           `json:"incident_id"`
	Priority   Severity         `json:"priority"`
	Reason     string           `json:"reason"`
	Status     AssignmentStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}
