package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veeduria-co/warroom-cli/internal/config"
	"github.com/veeduria-co/warroom-cli/internal/model"
)

func defaultConfig() config.ValidateConfig {
	return config.ValidateConfig{
		LowConfidence:      0.70,
		IncidentConfidence: 0.50,
		E11Margin:          0,
	}
}

func cleanRecord() *model.E14Record {
	return &model.E14Record{
		MesaCode:       "05001-01-01-003",
		Source:         model.SourceTestigo,
		CandidateVotes: map[string]int{"C001": 120, "C002": 95},
		Nivelacion: model.Nivelacion{
			Sufragantes:  245,
			VotosEnUrna:  245,
			VotosValidos: 215,
			VotosBlanco:  18,
			VotosNulos:   12,
		},
		OverallConfidence: 1.0,
		JuradosFirmantes:  6,
		JuradosTotal:      6,
	}
}

func outcomeOf(t *testing.T, res *Result, rule model.RuleID) model.RuleOutcome {
	t.Helper()
	for _, c := range res.Checks {
		if c.Rule == rule {
			return c.Outcome
		}
	}
	t.Fatalf("rule %s not checked", rule)
	return ""
}

func findingTypes(res *Result) []model.IncidentType {
	var out []model.IncidentType
	for _, f := range res.Findings {
		out = append(out, f.Type)
	}
	return out
}

func TestCheckCleanRecord(t *testing.T) {
	e := New(defaultConfig())

	res := e.Check(cleanRecord())
	assert.False(t, res.HardFailed())
	assert.False(t, res.LowConfidence)
	assert.Empty(t, res.Findings)
	for _, c := range res.Checks {
		assert.Equal(t, model.OutcomePass, c.Outcome, "rule %s", c.Rule)
	}
}

func TestCheckArithmetic(t *testing.T) {
	e := New(defaultConfig())

	t.Run("SumMismatch", func(t *testing.T) {
		rec := cleanRecord()
		rec.CandidateVotes["C001"] = 123 // 218+18+12 = 248 != 245

		res := e.Check(rec)
		assert.True(t, res.HardFailed())
		assert.Equal(t, model.OutcomeHardFail, outcomeOf(t, res, model.RuleArithmetic))
		assert.Contains(t, findingTypes(res), model.IncidentArithmeticFail)
	})

	t.Run("UrnaExceedsSufragantes", func(t *testing.T) {
		rec := cleanRecord()
		rec.Nivelacion.Sufragantes = 240
		rec.Nivelacion.VotosEnUrna = 245

		res := e.Check(rec)
		assert.Equal(t, model.OutcomeHardFail, outcomeOf(t, res, model.RuleArithmetic))
		assert.Contains(t, findingTypes(res), model.IncidentArithmeticFail)
	})

	t.Run("FindingCarriesEvidence", func(t *testing.T) {
		rec := cleanRecord()
		rec.Nivelacion.VotosEnUrna = 248
		rec.Nivelacion.Sufragantes = 248
		rec.CandidateVotes["C001"] = 110 // leveled 235 != 248

		res := e.Check(rec)
		require.NotEmpty(t, res.Findings)
		assert.Equal(t, model.SeverityP1, res.Findings[0].Severity)
		assert.Contains(t, res.Findings[0].Evidence, "votos_en_urna 248")
	})
}

func TestCheckE11VsUrna(t *testing.T) {
	t.Run("ExceedsMargin", func(t *testing.T) {
		e := New(defaultConfig())
		rec := cleanRecord()
		rec.Nivelacion.Sufragantes = 250 // 5 more signatures than ballots
		rec.Nivelacion.VotosEnUrna = 245

		res := e.Check(rec)
		assert.Equal(t, model.OutcomeHardFail, outcomeOf(t, res, model.RuleUrnaVsE11))
		assert.Contains(t, findingTypes(res), model.IncidentE11VsUrna)
	})

	t.Run("WithinMargin", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.E11Margin = 5
		e := New(cfg)
		rec := cleanRecord()
		rec.Nivelacion.Sufragantes = 250
		rec.Nivelacion.VotosEnUrna = 245

		res := e.Check(rec)
		assert.Equal(t, model.OutcomePass, outcomeOf(t, res, model.RuleUrnaVsE11))
	})
}

func TestCheckConfidence(t *testing.T) {
	e := New(defaultConfig())

	t.Run("SoftBelowLow", func(t *testing.T) {
		rec := cleanRecord()
		rec.Source = model.SourceOCRTesseract
		rec.OverallConfidence = 0.62

		res := e.Check(rec)
		assert.Equal(t, model.OutcomeSoftFail, outcomeOf(t, res, model.RuleConfidence))
		assert.True(t, res.LowConfidence)
		// Risk signal only: no incident above the floor.
		assert.NotContains(t, findingTypes(res), model.IncidentOCRLowConf)
		assert.False(t, res.HardFailed())
	})

	t.Run("IncidentBelowFloor", func(t *testing.T) {
		rec := cleanRecord()
		rec.Source = model.SourceOCRVision
		rec.OverallConfidence = 0.41

		res := e.Check(rec)
		assert.True(t, res.LowConfidence)
		assert.Contains(t, findingTypes(res), model.IncidentOCRLowConf)
	})

	t.Run("HighConfidencePasses", func(t *testing.T) {
		rec := cleanRecord()
		rec.OverallConfidence = 0.93

		res := e.Check(rec)
		assert.Equal(t, model.OutcomePass, outcomeOf(t, res, model.RuleConfidence))
		assert.False(t, res.LowConfidence)
	})
}

func TestCheckJuradosFirmas(t *testing.T) {
	e := New(defaultConfig())

	t.Run("Unsigned", func(t *testing.T) {
		rec := cleanRecord()
		rec.JuradosFirmantes = 0

		res := e.Check(rec)
		assert.Equal(t, model.OutcomeHardFail, outcomeOf(t, res, model.RuleJuradosFirmas))
		assert.Contains(t, findingTypes(res), model.IncidentSignatureMissing)
	})

	t.Run("MoreSignersThanJurados", func(t *testing.T) {
		rec := cleanRecord()
		rec.JuradosFirmantes = 8

		res := e.Check(rec)
		assert.Equal(t, model.OutcomeSoftFail, outcomeOf(t, res, model.RuleJuradosFirmas))
	})

	t.Run("UnknownJuradoCountSkips", func(t *testing.T) {
		rec := cleanRecord()
		rec.JuradosFirmantes = 0
		rec.JuradosTotal = 0

		res := e.Check(rec)
		assert.Equal(t, model.OutcomePass, outcomeOf(t, res, model.RuleJuradosFirmas))
	})
}

func TestCheckRecountMarked(t *testing.T) {
	e := New(defaultConfig())
	rec := cleanRecord()
	rec.Recount = model.Recount{HuboRecuento: true, SolicitadoPor: "testigo", Representacion: "partido X"}

	res := e.Check(rec)
	assert.Equal(t, model.OutcomeSoftFail, outcomeOf(t, res, model.RuleRecountMarked))
	assert.Contains(t, findingTypes(res), model.IncidentRecountMarked)
	assert.False(t, res.HardFailed())
}

func TestCheckEmptyFormIncomplete(t *testing.T) {
	e := New(defaultConfig())
	rec := &model.E14Record{
		MesaCode:          "05001-01-01-003",
		Source:            model.SourceOCRTesseract,
		OverallConfidence: 0.90,
		JuradosFirmantes:  6,
		JuradosTotal:      6,
	}

	res := e.Check(rec)
	assert.Equal(t, model.OutcomeSoftFail, outcomeOf(t, res, model.RuleCompleteness))
	// Soft failures never block ingestion.
	assert.False(t, res.HardFailed())
}
