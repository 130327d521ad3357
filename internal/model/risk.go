package model

import "time"

// CompositeRisk is the derived operational risk tier for a mesa.
type CompositeRisk string

const (
	RiskNormal   CompositeRisk = "NORMAL"
	RiskModerate CompositeRisk = "MODERATE"
	RiskHigh     CompositeRisk = "HIGH"
	RiskCritical CompositeRisk = "CRITICAL"
)

// riskRank orders composite tiers for bumping; higher is worse.
var riskRank = map[CompositeRisk]int{
	RiskNormal:   0,
	RiskModerate: 1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// AtLeast reports whether r is at least as severe as other.
func (r CompositeRisk) AtLeast(other CompositeRisk) bool {
	return riskRank[r] >= riskRank[other]
}

// Bump returns the next-worse tier, capped at CRITICAL.
func (r CompositeRisk) Bump() CompositeRisk {
	switch r {
	case RiskNormal:
		return RiskModerate
	case RiskModerate:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// RiskProfile is the cached composite risk for one mesa. Never hand
// edited: recomputed in full on every record or reconciliation event.
type RiskProfile struct {
	MesaCode    string          `json:"mesa_code"`
	StaticLevel StaticRiskLevel `json:"static_level"`
	Composite   CompositeRisk   `json:"composite"`
	Confidence  float64         `json:"confidence"` // latest overall OCR confidence
	HasOpenDiscrepancy bool     `json:"has_open_discrepancy"`
	ComputedAt  time.Time       `json:"computed_at"`
}
