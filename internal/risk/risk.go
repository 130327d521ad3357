// Package risk derives the composite operational risk tier for a mesa
// from its static zone risk, the latest OCR confidence, and whether an
// unresolved cross-source discrepancy is open. Pure lookup, recomputed
// in full on every event; the store only caches the result for reads.
package risk

import (
	"time"

	"github.com/veeduria-co/warroom-cli/internal/model"
)

// OCRLevel buckets overall confidence for the composite table.
type OCRLevel string

const (
	OCROk  OCRLevel = "ok"  // >= 0.85
	OCRMed OCRLevel = "med" // 0.70 - 0.85
	OCRLow OCRLevel = "low" // < 0.70
)

// LevelFor buckets an overall confidence value.
func LevelFor(confidence float64) OCRLevel {
	switch {
	case confidence >= 0.85:
		return OCROk
	case confidence >= 0.70:
		return OCRMed
	default:
		return OCRLow
	}
}

// Classify computes the composite tier from static risk and OCR level.
func Classify(static model.StaticRiskLevel, ocr OCRLevel) model.CompositeRisk {
	switch {
	case static == model.StaticRiskExtreme && ocr != OCROk:
		return model.RiskCritical
	case static == model.StaticRiskHigh && ocr == OCRLow:
		return model.RiskCritical
	case static == model.StaticRiskExtreme:
		return model.RiskHigh
	case static == model.StaticRiskHigh && ocr == OCRMed:
		return model.RiskHigh
	case static == model.StaticRiskNormal && ocr == OCRLow:
		return model.RiskHigh
	case static == model.StaticRiskHigh:
		return model.RiskModerate
	case ocr == OCRMed:
		return model.RiskModerate
	default:
		return model.RiskNormal
	}
}

// Profile builds the full cached profile for a mesa. An open P0/P1
// discrepancy bumps the lookup tier one step, capped at CRITICAL; the
// bump is recomputed every time, never accumulated.
func Profile(mesa *model.Mesa, confidence float64, openDiscrepancy bool) *model.RiskProfile {
	composite := Classify(mesa.StaticRisk, LevelFor(confidence))
	if openDiscrepancy {
		composite = composite.Bump()
	}
	return &model.RiskProfile{
		MesaCode:           mesa.Code,
		StaticLevel:        mesa.StaticRisk,
		Composite:          composite,
		Confidence:         confidence,
		HasOpenDiscrepancy: openDiscrepancy,
		ComputedAt:         time.Now().UTC(),
	}
}
