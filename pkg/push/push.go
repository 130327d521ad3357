// Package push delivers assignment notifications to witness phones via a
// webhook gateway. Delivery is best effort: dispatch never blocks on it.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/veeduria-co/warroom-cli/internal/model"
	"github.com/veeduria-co/warroom-cli/internal/resilience"
)

// Config configures the webhook client.
type Config struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// Notification is the payload posted to the gateway.
type Notification struct {
	WitnessID    string         `json:"witness_id"`
	Phone        string         `json:"phone"`
	AssignmentID string         `json:"assignment_id"`
	IncidentID   string         `json:"incident_id"`
	MesaCode     string         `json:"mesa_code"`
	Priority     model.Severity `json:"priority"`
	IncidentType string         `json:"incident_type"`
	Summary      string         `json:"summary"`
	SentAt       time.Time      `json:"sent_at"`
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// Client posts notifications to the configured webhook.
type Client struct {
	webhookURL string
	http       *http.Client
	retry      resilience.RetryConfig
}

// New creates a webhook client.
func New(cfg Config, opts ...Option) *Client {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 2
	retry.OnRetry = resilience.LogRetries("push", "notify_assignment")

	c := &Client{
		webhookURL: cfg.WebhookURL,
		retry:      retry,
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NotifyAssignment posts one assignment notification.
func (c *Client) NotifyAssignment(ctx context.Context, w *model.Witness, a *model.Assignment, inc *model.Incident) error {
	payload, err := json.Marshal(Notification{
		WitnessID:    w.ID,
		Phone:        w.Phone,
		AssignmentID: a.ID,
		IncidentID:   inc.ID,
		MesaCode:     inc.MesaCode,
		Priority:     a.Priority,
		IncidentType: string(inc.Type),
		Summary:      inc.Summary,
		SentAt:       time.Now().UTC(),
	})
	if err != nil {
		return eris.Wrap(err, "push: marshal notification")
	}

	return resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.post(ctx, payload)
	})
}

func (c *Client) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "push: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return resilience.Transient(eris.Wrap(err, "push: post"), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resilience.RetryableStatus(resp.StatusCode) {
		return resilience.Transient(
			eris.Errorf("push: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	}
	return eris.Errorf("push: status %d: %s", resp.StatusCode, string(body))
}
