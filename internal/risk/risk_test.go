package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veeduria-co/warroom-cli/internal/model"
)

func TestLevelFor(t *testing.T) {
	assert.Equal(t, OCROk, LevelFor(0.85))
	assert.Equal(t, OCROk, LevelFor(1.0))
	assert.Equal(t, OCRMed, LevelFor(0.84))
	assert.Equal(t, OCRMed, LevelFor(0.70))
	assert.Equal(t, OCRLow, LevelFor(0.69))
	assert.Equal(t, OCRLow, LevelFor(0))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		static model.StaticRiskLevel
		ocr    OCRLevel
		want   model.CompositeRisk
	}{
		{"NormalOk", model.StaticRiskNormal, OCROk, model.RiskNormal},
		{"NormalMed", model.StaticRiskNormal, OCRMed, model.RiskModerate},
		{"NormalLow", model.StaticRiskNormal, OCRLow, model.RiskHigh},
		{"HighOk", model.StaticRiskHigh, OCROk, model.RiskModerate},
		{"HighMed", model.StaticRiskHigh, OCRMed, model.RiskHigh},
		{"HighLow", model.StaticRiskHigh, OCRLow, model.RiskCritical},
		{"ExtremeOk", model.StaticRiskExtreme, OCROk, model.RiskHigh},
		{"ExtremeMed", model.StaticRiskExtreme, OCRMed, model.RiskCritical},
		{"ExtremeLow", model.StaticRiskExtreme, OCRLow, model.RiskCritical},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.static, tc.ocr))
		})
	}
}

func TestProfileDiscrepancyBump(t *testing.T) {
	mesa := &model.Mesa{Code: "05001-01-01-003", StaticRisk: model.StaticRiskNormal}

	t.Run("NoDiscrepancy", func(t *testing.T) {
		p := Profile(mesa, 0.95, false)
		assert.Equal(t, model.RiskNormal, p.Composite)
		assert.False(t, p.HasOpenDiscrepancy)
		assert.False(t, p.ComputedAt.IsZero())
	})

	t.Run("BumpsOneTier", func(t *testing.T) {
		p := Profile(mesa, 0.95, true)
		assert.Equal(t, model.RiskModerate, p.Composite)
		assert.True(t, p.HasOpenDiscrepancy)
	})

	t.Run("CapsAtCritical", func(t *testing.T) {
		extreme := &model.Mesa{Code: "05001-01-01-003", StaticRisk: model.StaticRiskExtreme}
		p := Profile(extreme, 0.40, true)
		assert.Equal(t, model.RiskCritical, p.Composite)
	})

	t.Run("RecomputedNotAccumulated", func(t *testing.T) {
		// Clearing the discrepancy drops the tier straight back.
		p := Profile(mesa, 0.95, true)
		assert.Equal(t, model.RiskModerate, p.Composite)
		p = Profile(mesa, 0.95, false)
		assert.Equal(t, model.RiskNormal, p.Composite)
	})
}

func TestProfileExtremeMediumConfidence(t *testing.T) {
	// An extreme-risk zone with mid-grade OCR is already critical before
	// any discrepancy is considered.
	mesa := &model.Mesa{Code: "13430-02-03-011", StaticRisk: model.StaticRiskExtreme}
	p := Profile(mesa, 0.62, false)
	assert.Equal(t, model.RiskCritical, p.Composite)
}
