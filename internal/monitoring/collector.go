// Package monitoring watches the incident queue for SLA trouble and
// raises alerts to the coordination channel. It only observes: breach
// never mutates an incident.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/veeduria-co/warroom-cli/internal/model"
	"github.com/veeduria-co/warroom-cli/internal/store"
)

// SLASnapshot is a point-in-time view of the incident queue's SLA state.
type SLASnapshot struct {
	ActiveIncidents int `json:"active_incidents"`

	// Breached holds active incidents past their deadline.
	Breached []model.Incident `json:"breached,omitempty"`

	// AtRisk holds active incidents within the warn window of their
	// deadline.
	AtRisk []model.Incident `json:"at_risk,omitempty"`

	// UnassignedCritical counts OPEN P0/P1 incidents with nobody on them.
	UnassignedCritical int `json:"unassigned_critical"`

	WarnBefore  time.Duration `json:"warn_before"`
	CollectedAt time.Time     `json:"collected_at"`
}

// Collector gathers SLA state from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a collector over the given store.
func NewCollector(s store.Store) *Collector {
	return &Collector{store: s}
}

// activeStatuses are the non-terminal incident states.
var activeStatuses = []model.IncidentStatus{
	model.IncidentOpen,
	model.IncidentAssigned,
	model.IncidentInvestigating,
}

// Collect scans active incidents and buckets them by SLA state at now.
func (c *Collector) Collect(ctx context.Context, warnBefore time.Duration) (*SLASnapshot, error) {
	now := time.Now().UTC()
	snap := &SLASnapshot{
		WarnBefore:  warnBefore,
		CollectedAt: now,
	}

	for _, status := range activeStatuses {
		// The watch must see the whole queue; the default listing cap
		// would hide breached incidents past it.
		incidents, err := c.store.ListIncidents(ctx, store.IncidentFilter{Status: status, Limit: store.NoLimit})
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: list %s incidents", status)
		}

		snap.ActiveIncidents += len(incidents)
		for _, inc := range incidents {
			switch {
			case inc.SLABreached(now):
				snap.Breached = append(snap.Breached, inc)
			case warnBefore > 0 && inc.SLARemaining(now) <= warnBefore:
				snap.AtRisk = append(snap.AtRisk, inc)
			}

			if status == model.IncidentOpen &&
				(inc.Severity == model.SeverityP0 || inc.Severity == model.SeverityP1) {
				snap.UnassignedCritical++
			}
		}
	}

	return snap, nil
}
