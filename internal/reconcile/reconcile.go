// Package reconcile compares the latest record of every source that has
// reported a mesa and turns cross-source disagreement into incident
// proposals. All records are retained; disagreement raises flags, never
// discards data.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/veeduria-co/warroom-cli/internal/config"
	"github.com/veeduria-co/warroom-cli/internal/model"
)

// Delta is one candidate's disagreement between two sources, framed
// against the higher-trust source.
type Delta struct {
	Candidate   string       `json:"candidate"`
	Trusted     model.Source `json:"trusted"`
	Other       model.Source `json:"other"`
	TrustedVote int          `json:"trusted_vote"`
	OtherVote   int          `json:"other_vote"`
	Delta       int          `json:"delta"`
	DeltaPct    float64      `json:"delta_pct"`
}

// Finding proposes an incident derived from a cross-source comparison.
type Finding struct {
	Type     model.IncidentType
	Severity model.Severity
	Summary  string
	Evidence string
}

// Comparison is the full cross-source picture for one mesa.
type Comparison struct {
	MesaCode string       `json:"mesa_code"`
	Sources  []model.Source `json:"sources"`
	Deltas   []Delta      `json:"deltas,omitempty"`
	Findings []Finding    `json:"-"`
}

// HasDiscrepancy reports whether any finding is a P0/P1 discrepancy,
// which feeds the risk classifier as a tier bump.
func (c *Comparison) HasDiscrepancy() bool {
	for _, f := range c.Findings {
		if f.Type == model.IncidentDiscrepancyRNEC || f.Type == model.IncidentSourceMismatch {
			return true
		}
	}
	return false
}

// Engine computes cross-source deltas with configured thresholds.
type Engine struct {
	cfg config.ReconcileConfig
}

func New(cfg config.ReconcileConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Compare reconciles the latest record per source for one mesa. Fewer
// than two sources yields an empty comparison: nothing to disagree about
// yet. Every lower-trust source is compared against the single most
// trusted one; same-physical-form pairs additionally get the strict
// transcription check.
func (e *Engine) Compare(mesaCode string, latest []model.E14Record) *Comparison {
	cmp := &Comparison{MesaCode: mesaCode}

	records := make([]model.E14Record, len(latest))
	copy(records, latest)
	sort.Slice(records, func(i, j int) bool {
		return records[i].Source.Trust() > records[j].Source.Trust()
	})
	for _, r := range records {
		cmp.Sources = append(cmp.Sources, r.Source)
	}
	if len(records) < 2 {
		return cmp
	}

	trusted := records[0]
	for _, other := range records[1:] {
		deltas := candidateDeltas(&trusted, &other)
		cmp.Deltas = append(cmp.Deltas, deltas...)

		worst := 0.0
		for _, d := range deltas {
			if d.DeltaPct > worst {
				worst = d.DeltaPct
			}
		}

		if worst > e.cfg.DiscrepancyPct {
			severity := model.SeverityP1
			if worst > e.cfg.CriticalPct {
				severity = model.SeverityP0
			}
			cmp.Findings = append(cmp.Findings, Finding{
				Type:     model.IncidentDiscrepancyRNEC,
				Severity: severity,
				Summary: fmt.Sprintf("%s disagrees with %s by %.1f%% on %s",
					other.Source, trusted.Source, worst*100, mesaCode),
				Evidence: evidenceFor(deltas, e.cfg.DiscrepancyPct),
			})
		}
	}

	// Two transcriptions of the same physical form disagreeing by more
	// than the tolerance is a transcription error, not a real dispute.
	// Checked pairwise so a TESTIGO/OCR disagreement still surfaces once
	// the official record arrives.
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if !model.SamePhysicalForm(records[i].Source, records[j].Source) {
				continue
			}
			deltas := candidateDeltas(&records[i], &records[j])
			worstDelta := 0
			for _, d := range deltas {
				if d.Delta > worstDelta {
					worstDelta = d.Delta
				}
			}
			if worstDelta > e.cfg.MismatchVotes {
				cmp.Findings = append(cmp.Findings, Finding{
					Type:     model.IncidentSourceMismatch,
					Severity: model.DefaultSeverity(model.IncidentSourceMismatch),
					Summary: fmt.Sprintf("%s and %s transcribe the same form %d votes apart on %s",
						records[i].Source, records[j].Source, worstDelta, mesaCode),
					Evidence: evidenceFor(deltas, 0),
				})
			}
		}
	}

	return cmp
}

// candidateDeltas compares every candidate that appears in either record.
func candidateDeltas(trusted, other *model.E14Record) []Delta {
	candidates := make(map[string]struct{})
	for c := range trusted.CandidateVotes {
		candidates[c] = struct{}{}
	}
	for c := range other.CandidateVotes {
		candidates[c] = struct{}{}
	}

	names := make([]string, 0, len(candidates))
	for c := range candidates {
		names = append(names, c)
	}
	sort.Strings(names)

	var out []Delta
	for _, c := range names {
		tv := trusted.CandidateVotes[c]
		ov := other.CandidateVotes[c]
		d := tv - ov
		if d < 0 {
			d = -d
		}
		denom := tv
		if denom < 1 {
			denom = 1
		}
		out = append(out, Delta{
			Candidate:   c,
			Trusted:     trusted.Source,
			Other:       other.Source,
			TrustedVote: tv,
			OtherVote:   ov,
			Delta:       d,
			DeltaPct:    float64(d) / float64(denom),
		})
	}
	return out
}

func evidenceFor(deltas []Delta, threshold float64) string {
	var parts []string
	for _, d := range deltas {
		if d.Delta == 0 || d.DeltaPct <= threshold {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s=%d %s=%d (%.1f%%)",
			d.Candidate, d.Trusted, d.TrustedVote, d.Other, d.OtherVote, d.DeltaPct*100))
	}
	if len(parts) == 0 {
		return ""
	}
	ev := parts[0]
	for _, p := range parts[1:] {
		ev += "; " + p
	}
	return ev
}
