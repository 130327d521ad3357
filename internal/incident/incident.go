// Package incident implements the SLA-bound incident state machine on
// top of the store. The store owns the transactional guarantees; this
// package owns the transition rules and the SLA clock.
package incident

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/veeduria-co/warroom-cli/internal/config"
	"github.com/veeduria-co/warroom-cli/internal/model"
	"github.com/veeduria-co/warroom-cli/internal/store"
)

// Manager opens and transitions incidents.
type Manager struct {
	store   store.Store
	windows model.SLAWindows
}

func New(s store.Store, cfg config.SLAConfig) *Manager {
	windows := model.DefaultSLAWindows()
	if cfg.P0 > 0 {
		windows[model.SeverityP0] = cfg.P0
	}
	if cfg.P1 > 0 {
		windows[model.SeverityP1] = cfg.P1
	}
	if cfg.P2 > 0 {
		windows[model.SeverityP2] = cfg.P2
	}
	if cfg.P3 > 0 {
		windows[model.SeverityP3] = cfg.P3
	}
	return &Manager{store: s, windows: windows}
}

// Windows exposes the effective SLA configuration.
func (m *Manager) Windows() model.SLAWindows { return m.windows }

// Open creates or attaches to the active incident for (mesa, type). The
// SLA deadline is fixed at creation from the severity window; attaches
// never move it. reopenedFrom links a recurrence to the terminal incident
// it follows.
func (m *Manager) Open(ctx context.Context, mesaCode string, typ model.IncidentType, severity model.Severity, summary, evidence, reopenedFrom string) (*model.Incident, bool, error) {
	if !typ.Valid() {
		return nil, false, eris.Errorf("incident: unknown type %q", typ)
	}
	now := time.Now().UTC()
	inc, created, err := m.store.OpenIncident(ctx, &model.Incident{
		MesaCode:     mesaCode,
		Type:         typ,
		Severity:     severity,
		Summary:      summary,
		Evidence:     evidence,
		SLADeadline:  now.Add(m.windows.Window(severity)),
		ReopenedFrom: reopenedFrom,
		CreatedAt:    now,
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		zap.L().Info("incident opened",
			zap.String("incident_id", inc.ID),
			zap.String("mesa", mesaCode),
			zap.String("type", string(typ)),
			zap.String("severity", string(severity)),
			zap.Time("sla_deadline", inc.SLADeadline))
	} else {
		zap.L().Debug("incident occurrence attached",
			zap.String("incident_id", inc.ID),
			zap.Int("occurrences", inc.Occurrences))
	}
	return inc, created, nil
}

// Resolve closes an incident from any non-terminal state. Notes are
// mandatory: an unexplained resolution is worthless in a dispute.
func (m *Manager) Resolve(ctx context.Context, id, actor, notes string) (*model.Incident, error) {
	if notes == "" {
		return nil, eris.New("incident: resolution notes required")
	}
	return m.transition(ctx, id, actor, notes, func(inc *model.Incident) error {
		inc.Status = model.IncidentResolved
		inc.ResolutionNotes = notes
		return nil
	})
}

// Escalate closes an incident as ESCALATED with a mandatory reason and
// an optional legal-team handoff flag.
func (m *Manager) Escalate(ctx context.Context, id, actor, reason string, toLegal bool) (*model.Incident, error) {
	if reason == "" {
		return nil, eris.New("incident: escalation reason required")
	}
	return m.transition(ctx, id, actor, reason, func(inc *model.Incident) error {
		inc.Status = model.IncidentEscalated
		inc.EscalationReason = reason
		inc.ToLegal = toLegal
		return nil
	})
}

// Reopen records a recurrence of a terminal incident as a brand-new
// incident carrying a reopened_from reference. Terminal incidents are
// immutable history.
func (m *Manager) Reopen(ctx context.Context, id, actor, summary string) (*model.Incident, error) {
	prev, err := m.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !prev.Status.Terminal() {
		return nil, eris.Wrapf(model.ErrInvalidTransition, "incident: %s still %s, nothing to reopen", id, prev.Status)
	}
	if summary == "" {
		summary = prev.Summary
	}
	inc, _, err := m.Open(ctx, prev.MesaCode, prev.Type, prev.Severity, summary, "", prev.ID)
	if err != nil {
		return nil, err
	}
	zap.L().Info("incident reopened",
		zap.String("previous", prev.ID),
		zap.String("incident_id", inc.ID),
		zap.String("actor", actor))
	return inc, nil
}

func (m *Manager) transition(ctx context.Context, id, actor, notes string, mutate func(*model.Incident) error) (*model.Incident, error) {
	inc, err := m.store.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc.Status.Terminal() {
		return nil, eris.Wrapf(model.ErrInvalidTransition, "incident: %s already %s", id, inc.Status)
	}

	from := inc.Status
	if err := mutate(inc); err != nil {
		return nil, err
	}
	inc.UpdatedAt = time.Now().UTC()

	err = m.store.UpdateIncident(ctx, inc, from, model.IncidentEvent{
		IncidentID: inc.ID,
		FromStatus: from,
		ToStatus:   inc.Status,
		Actor:      actor,
		Notes:      notes,
		OccurredAt: inc.UpdatedAt,
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("incident transitioned",
		zap.String("incident_id", inc.ID),
		zap.String("from", string(from)),
		zap.String("to", string(inc.Status)),
		zap.String("actor", actor))
	return inc, nil
}

// View is an incident decorated with its live SLA state.
type View struct {
	model.Incident
	SLARemaining time.Duration `json:"sla_remaining"`
	SLABreached  bool          `json:"sla_breached"`
}

// Decorate computes display-only SLA fields at now. Breach never mutates
// the incident.
func Decorate(inc model.Incident, now time.Time) View {
	return View{
		Incident:     inc,
		SLARemaining: inc.SLARemaining(now),
		SLABreached:  inc.SLABreached(now),
	}
}
