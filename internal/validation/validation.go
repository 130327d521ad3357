// Package validation applies the deterministic rule set to a single E14
// record. Rules are pure functions of the record and the configured
// thresholds; they never touch the store.
package validation

import (
	"fmt"
	"time"

	"github.com/veeduria-co/warroom-cli/internal/config"
	"github.com/veeduria-co/warroom-cli/internal/model"
)

// Finding proposes an incident derived from a failed rule. The ingest
// engine is responsible for actually opening it.
type Finding struct {
	Type     model.IncidentType
	Severity model.Severity
	Summary  string
	Evidence string
}

// Result is the outcome of running every rule against one record.
type Result struct {
	Checks   []model.Validation
	Findings []Finding
	// LowConfidence marks records whose overall confidence fell below the
	// soft threshold without reaching incident level. Risk signal only.
	LowConfidence bool
}

// HardFailed reports whether any rule failed hard.
func (r *Result) HardFailed() bool {
	for _, c := range r.Checks {
		if c.Outcome == model.OutcomeHardFail {
			return true
		}
	}
	return false
}

// Engine evaluates validation rules with configured thresholds.
type Engine struct {
	cfg config.ValidateConfig
}

func New(cfg config.ValidateConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Check runs every rule against the record. Hard failures flag the record
// and propose incidents; soft failures only feed risk. A record is never
// rejected here: by the time validation runs, the record is structurally
// sound and will be persisted for audit regardless of outcome.
func (e *Engine) Check(rec *model.E14Record) *Result {
	now := time.Now().UTC()
	res := &Result{}

	add := func(rule model.RuleID, outcome model.RuleOutcome, msg string) {
		res.Checks = append(res.Checks, model.Validation{
			Rule:      rule,
			Outcome:   outcome,
			Message:   msg,
			CheckedAt: now,
		})
	}

	// Arithmetic: the form's own totals must level exactly.
	sum := rec.SumCandidates()
	niv := rec.Nivelacion
	leveled := sum + niv.VotosBlanco + niv.VotosNulos
	if leveled != niv.VotosEnUrna {
		msg := fmt.Sprintf("candidates %d + blanco %d + nulos %d = %d, votos_en_urna %d",
			sum, niv.VotosBlanco, niv.VotosNulos, leveled, niv.VotosEnUrna)
		add(model.RuleArithmetic, model.OutcomeHardFail, msg)
		res.Findings = append(res.Findings, Finding{
			Type:     model.IncidentArithmeticFail,
			Severity: model.DefaultSeverity(model.IncidentArithmeticFail),
			Summary:  fmt.Sprintf("arithmetic mismatch on %s/%s", rec.MesaCode, rec.Source),
			Evidence: msg,
		})
	} else if niv.VotosEnUrna > niv.Sufragantes {
		msg := fmt.Sprintf("votos_en_urna %d exceeds sufragantes %d", niv.VotosEnUrna, niv.Sufragantes)
		add(model.RuleArithmetic, model.OutcomeHardFail, msg)
		res.Findings = append(res.Findings, Finding{
			Type:     model.IncidentArithmeticFail,
			Severity: model.DefaultSeverity(model.IncidentArithmeticFail),
			Summary:  fmt.Sprintf("urn count above signature count on %s/%s", rec.MesaCode, rec.Source),
			Evidence: msg,
		})
	} else {
		add(model.RuleArithmetic, model.OutcomePass, "")
	}

	// E11 vs urna: more E11 signatures than ballots in the urn beyond the
	// allowed margin means voters signed but their ballots are unaccounted.
	if diff := niv.Sufragantes - niv.VotosEnUrna; diff > e.cfg.E11Margin {
		msg := fmt.Sprintf("sufragantes %d exceed votos_en_urna %d by %d (margin %d)",
			niv.Sufragantes, niv.VotosEnUrna, diff, e.cfg.E11Margin)
		add(model.RuleUrnaVsE11, model.OutcomeHardFail, msg)
		res.Findings = append(res.Findings, Finding{
			Type:     model.IncidentE11VsUrna,
			Severity: model.DefaultSeverity(model.IncidentE11VsUrna),
			Summary:  fmt.Sprintf("E11 signatures exceed urn count on %s", rec.MesaCode),
			Evidence: msg,
		})
	} else {
		add(model.RuleUrnaVsE11, model.OutcomePass, "")
	}

	// Confidence: soft below the low threshold, incident below the floor.
	switch {
	case rec.OverallConfidence < e.cfg.IncidentConfidence:
		msg := fmt.Sprintf("overall confidence %.2f below %.2f", rec.OverallConfidence, e.cfg.IncidentConfidence)
		add(model.RuleConfidence, model.OutcomeSoftFail, msg)
		res.LowConfidence = true
		res.Findings = append(res.Findings, Finding{
			Type:     model.IncidentOCRLowConf,
			Severity: model.DefaultSeverity(model.IncidentOCRLowConf),
			Summary:  fmt.Sprintf("low OCR confidence on %s/%s", rec.MesaCode, rec.Source),
			Evidence: msg,
		})
	case rec.OverallConfidence < e.cfg.LowConfidence:
		add(model.RuleConfidence, model.OutcomeSoftFail,
			fmt.Sprintf("overall confidence %.2f below %.2f", rec.OverallConfidence, e.cfg.LowConfidence))
		res.LowConfidence = true
	default:
		add(model.RuleConfidence, model.OutcomePass, "")
	}

	// Completeness: a tally with no votes anywhere is a blank transcription,
	// not a counted mesa.
	if niv.Sufragantes == 0 && niv.VotosEnUrna == 0 && sum == 0 {
		add(model.RuleCompleteness, model.OutcomeSoftFail, "all nivelacion fields zero")
	} else {
		add(model.RuleCompleteness, model.OutcomePass, "")
	}

	// Jurado signatures.
	switch {
	case rec.JuradosTotal > 0 && rec.JuradosFirmantes == 0:
		msg := fmt.Sprintf("0 of %d jurados signed", rec.JuradosTotal)
		add(model.RuleJuradosFirmas, model.OutcomeHardFail, msg)
		res.Findings = append(res.Findings, Finding{
			Type:     model.IncidentSignatureMissing,
			Severity: model.DefaultSeverity(model.IncidentSignatureMissing),
			Summary:  fmt.Sprintf("unsigned form on %s", rec.MesaCode),
			Evidence: msg,
		})
	case rec.JuradosFirmantes > rec.JuradosTotal:
		add(model.RuleJuradosFirmas, model.OutcomeSoftFail,
			fmt.Sprintf("%d firmantes exceed %d jurados", rec.JuradosFirmantes, rec.JuradosTotal))
	default:
		add(model.RuleJuradosFirmas, model.OutcomePass, "")
	}

	// Recount annotation on the form itself.
	if rec.Recount.HuboRecuento {
		msg := "recount marked"
		if rec.Recount.SolicitadoPor != "" {
			msg = fmt.Sprintf("recount requested by %s (%s)", rec.Recount.SolicitadoPor, rec.Recount.Representacion)
		}
		add(model.RuleRecountMarked, model.OutcomeSoftFail, msg)
		res.Findings = append(res.Findings, Finding{
			Type:     model.IncidentRecountMarked,
			Severity: model.DefaultSeverity(model.IncidentRecountMarked),
			Summary:  fmt.Sprintf("recount annotated on %s", rec.MesaCode),
			Evidence: msg,
		})
	} else {
		add(model.RuleRecountMarked, model.OutcomePass, "")
	}

	return res
}
