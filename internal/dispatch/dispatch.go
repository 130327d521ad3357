// Package dispatch matches open incidents to available field witnesses
// and books them atomically through the store.
package dispatch

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/veeduria-co/warroom-cli/internal/model"
	"github.com/veeduria-co/warroom-cli/internal/store"
)

// ErrNoCoverage means no available witness covers the incident's mesa.
var ErrNoCoverage = eris.New("dispatch: no coverage")

// Notifier delivers an assignment notification to a witness. Failures are
// logged and swallowed: dispatch state never depends on push delivery.
type Notifier interface {
	NotifyAssignment(ctx context.Context, w *model.Witness, a *model.Assignment, inc *model.Incident) error
}

// Candidate is a witness ranked for one incident.
type Candidate struct {
	Witness     model.Witness `json:"witness"`
	Specificity int           `json:"specificity"` // 3 puesto, 2 muni, 1 dept
	Load        int           `json:"load"`
}

// Engine performs witness matching and assignment.
type Engine struct {
	store    store.Store
	notifier Notifier
}

func New(s store.Store, n Notifier) *Engine {
	return &Engine{store: s, notifier: n}
}

// Candidates returns available witnesses covering the incident's mesa,
// ranked: push-enabled first (they can be reached immediately), then
// most specific coverage, then fewest assignments, then name for
// determinism.
func (e *Engine) Candidates(ctx context.Context, inc *model.Incident) ([]Candidate, error) {
	mesa, err := e.store.GetMesa(ctx, inc.MesaCode)
	if err != nil {
		return nil, err
	}
	available, err := e.store.ListWitnesses(ctx, model.WitnessAvailable)
	if err != nil {
		return nil, err
	}
	loads, err := e.store.AssignmentLoads(ctx)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for i := range available {
		w := available[i]
		spec := w.BestMatch(mesa)
		if spec == 0 {
			continue
		}
		out = append(out, Candidate{Witness: w, Specificity: spec, Load: loads[w.ID]})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Witness.PushEnabled != b.Witness.PushEnabled {
			return a.Witness.PushEnabled
		}
		if a.Specificity != b.Specificity {
			return a.Specificity > b.Specificity
		}
		if a.Load != b.Load {
			return a.Load < b.Load
		}
		return a.Witness.Name < b.Witness.Name
	})
	return out, nil
}

// Assign books a specific witness onto an incident: witness to busy,
// incident to ASSIGNED, assignment row SENT, all in one transaction. A
// witness already holding an active assignment yields
// model.ErrAssignmentConflict with nothing mutated. A push notification
// is attempted afterwards when the witness opted in.
func (e *Engine) Assign(ctx context.Context, incidentID, witnessID, reason string) (*model.Assignment, error) {
	inc, err := e.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	a, err := e.store.ConfirmAssignment(ctx, &model.Assignment{
		WitnessID:  witnessID,
		IncidentID: incidentID,
		Priority:   inc.Severity,
		Reason:     reason,
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("witness dispatched",
		zap.String("assignment_id", a.ID),
		zap.String("witness_id", witnessID),
		zap.String("incident_id", incidentID),
		zap.String("priority", string(a.Priority)))

	e.notify(ctx, a, inc)
	return a, nil
}

// AutoAssign picks the top-ranked candidate and books them. Candidates
// who turn busy between ranking and booking are skipped, so losing a
// race degrades to the next candidate instead of failing the dispatch.
func (e *Engine) AutoAssign(ctx context.Context, incidentID, reason string) (*model.Assignment, error) {
	inc, err := e.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	candidates, err := e.Candidates(ctx, inc)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, eris.Wrapf(ErrNoCoverage, "no available witness covers %s", inc.MesaCode)
	}

	for _, c := range candidates {
		a, err := e.store.ConfirmAssignment(ctx, &model.Assignment{
			WitnessID:  c.Witness.ID,
			IncidentID: incidentID,
			Priority:   inc.Severity,
			Reason:     reason,
		})
		if eris.Is(err, model.ErrAssignmentConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		zap.L().Info("witness auto-dispatched",
			zap.String("assignment_id", a.ID),
			zap.String("witness_id", c.Witness.ID),
			zap.String("incident_id", incidentID),
			zap.Int("specificity", c.Specificity))
		e.notify(ctx, a, inc)
		return a, nil
	}
	return nil, eris.Wrapf(model.ErrAssignmentConflict, "dispatch: every candidate for %s lost the booking race", inc.MesaCode)
}

// Accept acknowledges a SENT assignment; the incident moves to
// INVESTIGATING.
func (e *Engine) Accept(ctx context.Context, assignmentID string) (*model.Assignment, error) {
	return e.store.TransitionAssignment(ctx, assignmentID, model.AssignmentSent, model.AssignmentAccepted)
}

// Reject declines a SENT assignment; the witness is released and the
// incident returns to the dispatch pool.
func (e *Engine) Reject(ctx context.Context, assignmentID string) (*model.Assignment, error) {
	return e.store.TransitionAssignment(ctx, assignmentID, model.AssignmentSent, model.AssignmentRejected)
}

// Complete finishes an ACCEPTED assignment; the witness is released but
// incident resolution stays with the operator.
func (e *Engine) Complete(ctx context.Context, assignmentID string) (*model.Assignment, error) {
	return e.store.TransitionAssignment(ctx, assignmentID, model.AssignmentAccepted, model.AssignmentCompleted)
}

// Cancel withdraws a SENT assignment before the witness acted. A cancel
// racing an accept loses to whichever commits first; the loser gets
// model.ErrAssignmentConflict.
func (e *Engine) Cancel(ctx context.Context, assignmentID string) (*model.Assignment, error) {
	return e.store.TransitionAssignment(ctx, assignmentID, model.AssignmentSent, model.AssignmentCancelled)
}

func (e *Engine) notify(ctx context.Context, a *model.Assignment, inc *model.Incident) {
	if e.notifier == nil {
		return
	}
	w, err := e.store.GetWitness(ctx, a.WitnessID)
	if err != nil {
		zap.L().Warn("dispatch: load witness for notify", zap.Error(err))
		return
	}
	if !w.PushEnabled {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.notifier.NotifyAssignment(nctx, w, a, inc); err != nil {
		zap.L().Warn("dispatch: push notification failed",
			zap.String("witness_id", w.ID),
			zap.String("assignment_id", a.ID),
			zap.Error(err))
	}
}
