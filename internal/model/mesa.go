package model

import (
	"fmt"
	"regexp"
	"time"
)

// StaticRiskLevel is the socio-political risk tier assigned to a mesa's
// zone by the external risk source before election day.
type StaticRiskLevel string

const (
	StaticRiskNormal  StaticRiskLevel = "NORMAL"
	StaticRiskHigh    StaticRiskLevel = "HIGH"
	StaticRiskExtreme StaticRiskLevel = "EXTREME"
)

// mesaCodePattern matches the canonical mesa code: five-digit DIVIPOL
// municipality code, two-digit zone, two-digit puesto, three-digit mesa.
var mesaCodePattern = regexp.MustCompile(`^\d{5}-\d{2}-\d{2}-\d{3}$`)

// Mesa is a single polling table, the atomic unit of counting and
// reconciliation. Created once per election cycle, immutable, never deleted.
type Mesa struct {
	Code        string          `json:"code"` // e.g. "05001-01-01-003"
	Dept        string          `json:"dept"`
	DeptName    string          `json:"dept_name,omitempty"`
	Muni        string          `json:"muni"`
	MuniName    string          `json:"muni_name,omitempty"`
	Zona        string          `json:"zona"`
	Puesto      string          `json:"puesto"`
	PuestoName  string          `json:"puesto_name,omitempty"`
	MesaNumber  string          `json:"mesa_number"`
	ContestID   string          `json:"contest_id"`
	StaticRisk  StaticRiskLevel `json:"static_risk"`
	RegisteredVoters int        `json:"registered_voters,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ValidMesaCode reports whether code has the canonical
// dept+muni-zona-puesto-mesa shape.
func ValidMesaCode(code string) bool {
	return mesaCodePattern.MatchString(code)
}

// MesaCode assembles a canonical code from its hierarchy parts.
func MesaCode(muni5, zona, puesto, mesa string) string {
	return fmt.Sprintf("%s-%s-%s-%s", muni5, zona, puesto, mesa)
}
