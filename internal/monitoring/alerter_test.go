package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veeduria-co/warroom-cli/internal/config"
	"github.com/veeduria-co/warroom-cli/internal/model"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.WatchConfig{WarnBefore: 3 * time.Minute})

	alerts := a.Evaluate(&SLASnapshot{ActiveIncidents: 4})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_Breach(t *testing.T) {
	a := NewAlerter(config.WatchConfig{})
	now := time.Now().UTC()

	snap := &SLASnapshot{
		ActiveIncidents: 1,
		Breached: []model.Incident{{
			ID: "inc-1", MesaCode: "05001-01-01-003",
			Type: model.IncidentDiscrepancyRNEC, Severity: model.SeverityP0,
			Status: model.IncidentOpen, SLADeadline: now.Add(-2 * time.Minute),
		}},
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSLABreach, alerts[0].Type)
	assert.Equal(t, model.SeverityP0, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "05001-01-01-003")
	assert.Contains(t, alerts[0].Message, "DISCREPANCY_RNEC")
	assert.Equal(t, "inc-1", alerts[0].Details["incident_id"])
}

func TestAlerter_Evaluate_AtRisk(t *testing.T) {
	a := NewAlerter(config.WatchConfig{})
	now := time.Now().UTC()

	snap := &SLASnapshot{
		ActiveIncidents: 1,
		AtRisk: []model.Incident{{
			ID: "inc-2", MesaCode: "11001-05-12-045",
			Type: model.IncidentArithmeticFail, Severity: model.SeverityP1,
			Status: model.IncidentAssigned, SLADeadline: now.Add(90 * time.Second),
		}},
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSLAAtRisk, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "left on its SLA")
}

func TestAlerter_Evaluate_UnassignedCritical(t *testing.T) {
	a := NewAlerter(config.WatchConfig{})

	alerts := a.Evaluate(&SLASnapshot{ActiveIncidents: 5, UnassignedCritical: 3})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertUnassignedCritical, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "3 critical incident(s)")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.WatchConfig{})
	now := time.Now().UTC()

	snap := &SLASnapshot{
		ActiveIncidents: 3,
		Breached: []model.Incident{{
			ID: "inc-1", MesaCode: "05001-01-01-003",
			Type: model.IncidentSourceMismatch, Severity: model.SeverityP1,
			SLADeadline: now.Add(-time.Minute),
		}},
		AtRisk: []model.Incident{{
			ID: "inc-2", MesaCode: "05001-01-01-004",
			Type: model.IncidentOCRLowConf, Severity: model.SeverityP2,
			SLADeadline: now.Add(time.Minute),
		}},
		UnassignedCritical: 1,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, al := range alerts {
		types[al.Type] = true
	}
	assert.True(t, types[AlertSLABreach])
	assert.True(t, types[AlertSLAAtRisk])
	assert.True(t, types[AlertUnassignedCritical])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.WatchConfig{WebhookURL: ts.URL})

	alerts := []Alert{
		{Type: AlertSLABreach, Severity: model.SeverityP0, Message: "test alert 1"},
		{Type: AlertUnassignedCritical, Severity: model.SeverityP1, Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.WatchConfig{WebhookURL: ""})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertSLABreach, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.WatchConfig{WebhookURL: "http://example.com"})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.WatchConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertSLABreach, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}
