package model

import "time"

// RuleID identifies a validation rule.
type RuleID string

const (
	RuleArithmetic     RuleID = "arithmetic"
	RuleUrnaVsE11      RuleID = "urna_vs_e11"
	RuleConfidence     RuleID = "confidence"
	RuleCompleteness   RuleID = "completeness"
	RuleJuradosFirmas  RuleID = "jurados_firmas"
	RuleRecountMarked  RuleID = "recount_marked"
)

// RuleOutcome classifies a rule result. Hard failures flag the record for
// incident handling; soft failures only contribute to risk.
type RuleOutcome string

const (
	OutcomePass     RuleOutcome = "pass"
	OutcomeSoftFail RuleOutcome = "soft_fail"
	OutcomeHardFail RuleOutcome = "hard_fail"
)

// Validation is the immutable outcome of one rule applied to one record
// version. A record does not count as ingested until its validations are
// persisted alongside it.
type Validation struct {
	ID        string      `json:"id"`
	RecordID  string      `json:"record_id"`
	Rule      RuleID      `json:"rule"`
	Outcome   RuleOutcome `json:"outcome"`
	Message   string      `json:"message,omitempty"`
	CheckedAt time.Time   `json:"checked_at"`
}

// Passed reports whether the rule passed.
func (v Validation) Passed() bool { return v.Outcome == OutcomePass }
