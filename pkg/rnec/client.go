// Package rnec pulls official mesa results from the registrar's
// divulgation feed. The feed is rate limited on our side and calls are
// retried through a circuit breaker, since election night traffic makes
// it flaky exactly when it matters most.
package rnec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/veeduria-co/warroom-cli/internal/model"
	"github.com/veeduria-co/warroom-cli/internal/resilience"
)

// ErrMesaNotPublished means the registrar has not divulged this mesa yet.
// It is an expected condition during the count, not a failure.
var ErrMesaNotPublished = eris.New("rnec: mesa not published")

// Client defines the official feed operations.
type Client interface {
	// FetchMesa returns the published official result for one mesa, or
	// ErrMesaNotPublished while the registrar has nothing for it.
	FetchMesa(ctx context.Context, mesaCode string) (*MesaResult, error)
}

// MesaResult is one mesa's official divulged tally.
type MesaResult struct {
	MesaCode       string           `json:"mesa_code"`
	CandidateVotes map[string]int   `json:"candidate_votes"`
	Nivelacion     model.Nivelacion `json:"nivelacion"`
	PublishedAt    time.Time        `json:"published_at"`
}

// Config configures the feed client.
type Config struct {
	BaseURL    string  `mapstructure:"base_url"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
	Burst      int     `mapstructure:"burst"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

// WithBreaker overrides the circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) { c.breaker = b }
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

var _ Client = (*httpClient)(nil)

// New creates a feed client.
func New(cfg Config, opts ...Option) Client {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}

	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.LogRetries("rnec", "fetch_mesa")

	c := &httpClient{
		baseURL: cfg.BaseURL,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		retry:   retry,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerConfig()),
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) FetchMesa(ctx context.Context, mesaCode string) (*MesaResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rnec: rate limiter")
	}

	return resilience.RetryVal(ctx, c.retry, func(ctx context.Context) (*MesaResult, error) {
		return resilience.BreakerDo(ctx, c.breaker, func(ctx context.Context) (*MesaResult, error) {
			return c.fetch(ctx, mesaCode)
		})
	})
}

func (c *httpClient) fetch(ctx context.Context, mesaCode string) (*MesaResult, error) {
	reqURL := fmt.Sprintf("%s/resultados/%s", c.baseURL, mesaCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "rnec: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "rnec: request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "rnec: read body"), resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, eris.Wrapf(ErrMesaNotPublished, "mesa %s", mesaCode)
	case resilience.RetryableStatus(resp.StatusCode):
		return nil, resilience.Transient(
			eris.Errorf("rnec: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	default:
		return nil, eris.Errorf("rnec: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result MesaResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "rnec: unmarshal result")
	}
	if result.MesaCode == "" {
		result.MesaCode = mesaCode
	}
	return &result, nil
}
