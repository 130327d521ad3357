package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/veeduria-co/warroom-cli/internal/config"
	"github.com/veeduria-co/warroom-cli/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSLABreach          AlertType = "sla_breach"
	AlertSLAAtRisk          AlertType = "sla_at_risk"
	AlertUnassignedCritical AlertType = "unassigned_critical"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  model.Severity `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns an SLA snapshot into alerts and delivers them to the
// coordination channel webhook.
type Alerter struct {
	cfg    config.WatchConfig
	client *http.Client
}

// NewAlerter creates an Alerter with the given watch config.
func NewAlerter(cfg config.WatchConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot and returns any alerts. Breached and
// at-risk incidents each get their own alert so the channel message
// carries the mesa and incident id.
func (a *Alerter) Evaluate(snap *SLASnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, inc := range snap.Breached {
		alerts = append(alerts, Alert{
			Type:     AlertSLABreach,
			Severity: inc.Severity,
			Message: fmt.Sprintf(
				"%s %s on mesa %s breached its SLA %s ago",
				inc.Severity, inc.Type, inc.MesaCode,
				(-inc.SLARemaining(now)).Round(time.Second),
			),
			Details: map[string]any{
				"incident_id": inc.ID,
				"mesa_code":   inc.MesaCode,
				"status":      inc.Status,
				"deadline":    inc.SLADeadline,
			},
			Timestamp: now,
		})
	}

	for _, inc := range snap.AtRisk {
		alerts = append(alerts, Alert{
			Type:     AlertSLAAtRisk,
			Severity: inc.Severity,
			Message: fmt.Sprintf(
				"%s %s on mesa %s has %s left on its SLA",
				inc.Severity, inc.Type, inc.MesaCode,
				inc.SLARemaining(now).Round(time.Second),
			),
			Details: map[string]any{
				"incident_id": inc.ID,
				"mesa_code":   inc.MesaCode,
				"status":      inc.Status,
				"deadline":    inc.SLADeadline,
			},
			Timestamp: now,
		})
	}

	if snap.UnassignedCritical > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertUnassignedCritical,
			Severity: model.SeverityP1,
			Message: fmt.Sprintf(
				"%d critical incident(s) open with no witness assigned",
				snap.UnassignedCritical,
			),
			Details: map[string]any{
				"count":            snap.UnassignedCritical,
				"active_incidents": snap.ActiveIncidents,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", string(alert.Severity)),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
