// Package ingest is the write path of the war room: it normalizes raw
// submissions, runs validation and reconciliation, opens incidents, and
// recomputes mesa risk, all serialized per mesa.
package ingest

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/veeduria-co/warroom-cli/internal/incident"
	"github.com/veeduria-co/warroom-cli/internal/model"
	"github.com/veeduria-co/warroom-cli/internal/reconcile"
	"github.com/veeduria-co/warroom-cli/internal/risk"
	"github.com/veeduria-co/warroom-cli/internal/store"
	"github.com/veeduria-co/warroom-cli/internal/validation"
)

// Result is everything one accepted submission produced.
type Result struct {
	Record     *model.E14Record      `json:"record"`
	Checks     []model.Validation    `json:"checks"`
	Comparison *reconcile.Comparison `json:"comparison"`
	Risk       *model.RiskProfile    `json:"risk"`
	Incidents  []model.Incident      `json:"incidents,omitempty"`
}

// Engine orchestrates the ingest pipeline.
type Engine struct {
	store      store.Store
	validator  *validation.Engine
	reconciler *reconcile.Engine
	incidents  *incident.Manager

	locks keyedLocks
}

func New(s store.Store, v *validation.Engine, r *reconcile.Engine, im *incident.Manager) *Engine {
	return &Engine{store: s, validator: v, reconciler: r, incidents: im}
}

// Ingest runs the full pipeline for one submission. The whole sequence
// holds the mesa's lock, so two concurrent arrivals for the same mesa
// cannot interleave and double-open an incident; different mesas proceed
// in parallel.
func (e *Engine) Ingest(ctx context.Context, sub *Submission) (*Result, error) {
	rec, err := Normalize(sub)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(rec.MesaCode)
	defer unlock()

	mesa, err := e.store.GetMesa(ctx, rec.MesaCode)
	if eris.Is(err, model.ErrNotFound) {
		return nil, eris.Wrapf(model.ErrUnknownMesa, "ingest: mesa %s", rec.MesaCode)
	}
	if err != nil {
		return nil, err
	}

	// Validation runs before the record counts as ingested; record and
	// check results land in one transaction.
	checked := e.validator.Check(rec)
	stored, err := e.store.AppendRecord(ctx, rec, checked.Checks)
	if err != nil {
		return nil, err
	}
	res := &Result{Record: stored, Checks: checked.Checks}

	zap.L().Info("record ingested",
		zap.String("mesa", stored.MesaCode),
		zap.String("source", string(stored.Source)),
		zap.Int("version", stored.Version),
		zap.Float64("confidence", stored.OverallConfidence))

	for _, f := range checked.Findings {
		inc, _, err := e.incidents.Open(ctx, stored.MesaCode, f.Type, f.Severity, f.Summary, f.Evidence, "")
		if err != nil {
			return nil, err
		}
		res.Incidents = append(res.Incidents, *inc)
	}

	latest, err := e.store.ListLatestRecords(ctx, stored.MesaCode)
	if err != nil {
		return nil, err
	}
	cmp := e.reconciler.Compare(stored.MesaCode, latest)
	res.Comparison = cmp
	for _, f := range cmp.Findings {
		inc, _, err := e.incidents.Open(ctx, stored.MesaCode, f.Type, f.Severity, f.Summary, f.Evidence, "")
		if err != nil {
			return nil, err
		}
		res.Incidents = append(res.Incidents, *inc)
	}

	openDisc, err := e.hasOpenDiscrepancy(ctx, stored.MesaCode)
	if err != nil {
		return nil, err
	}
	profile := risk.Profile(mesa, stored.OverallConfidence, openDisc)
	if err := e.store.UpsertRiskProfile(ctx, profile); err != nil {
		return nil, err
	}
	res.Risk = profile

	return res, nil
}

// hasOpenDiscrepancy checks for an unresolved cross-source incident on
// the mesa. Resolving it drops the risk bump on the next recompute.
func (e *Engine) hasOpenDiscrepancy(ctx context.Context, mesaCode string) (bool, error) {
	incs, err := e.store.ListIncidents(ctx, store.IncidentFilter{MesaCode: mesaCode})
	if err != nil {
		return false, err
	}
	for _, inc := range incs {
		if !inc.Status.Active() {
			continue
		}
		if inc.Type == model.IncidentDiscrepancyRNEC || inc.Type == model.IncidentSourceMismatch {
			return true, nil
		}
	}
	return false, nil
}

// RecomputeRisk refreshes a mesa's cached risk profile outside the ingest
// path, e.g. after an operator resolves a discrepancy.
func (e *Engine) RecomputeRisk(ctx context.Context, mesaCode string) (*model.RiskProfile, error) {
	unlock := e.locks.lock(mesaCode)
	defer unlock()

	mesa, err := e.store.GetMesa(ctx, mesaCode)
	if err != nil {
		return nil, err
	}
	confidence := 1.0
	if latest, err := e.store.ListLatestRecords(ctx, mesaCode); err != nil {
		return nil, err
	} else if len(latest) > 0 {
		newest := latest[0]
		for _, r := range latest[1:] {
			if r.ReceivedAt.After(newest.ReceivedAt) {
				newest = r
			}
		}
		confidence = newest.OverallConfidence
	}
	openDisc, err := e.hasOpenDiscrepancy(ctx, mesaCode)
	if err != nil {
		return nil, err
	}
	profile := risk.Profile(mesa, confidence, openDisc)
	if err := e.store.UpsertRiskProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// Compare recomputes the cross-source comparison for a mesa without
// opening incidents. Read path for the mesa detail view.
func (e *Engine) Compare(ctx context.Context, mesaCode string) (*reconcile.Comparison, error) {
	latest, err := e.store.ListLatestRecords(ctx, mesaCode)
	if err != nil {
		return nil, err
	}
	return e.reconciler.Compare(mesaCode, latest), nil
}

// keyedLocks serializes work per mesa code. Lock entries are retained for
// the run's lifetime; the key space is bounded by the mesa registry.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
