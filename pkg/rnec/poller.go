package rnec

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/veeduria-co/warroom-cli/internal/ingest"
	"github.com/veeduria-co/warroom-cli/internal/model"
)

// AwaitingLister exposes the mesas still missing an official record.
type AwaitingLister interface {
	MesasAwaitingOfficial(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Ingestor feeds fetched official results through the normal intake path,
// so they get the same validation and reconciliation as every other source.
type Ingestor interface {
	Ingest(ctx context.Context, sub *ingest.Submission) (*ingest.Result, error)
}

// IncidentOpener opens delay incidents against overdue mesas.
type IncidentOpener interface {
	Open(ctx context.Context, mesaCode string, typ model.IncidentType, severity model.Severity, summary, evidence, reopenedFrom string) (*model.Incident, bool, error)
}

// PollerConfig controls the sync loop.
type PollerConfig struct {
	// PollInterval is the time between sync passes.
	PollInterval time.Duration

	// DelayAfter is how long a mesa may wait for its official result
	// before a delay incident is opened.
	DelayAfter time.Duration
}

// SyncStats summarizes one sync pass.
type SyncStats struct {
	Fetched int // official results pulled and ingested
	Pending int // mesas the registrar has not published yet
	Failed  int // fetch or ingest errors
	Delayed int // new delay incidents opened this pass
}

// Poller periodically pulls official results for every mesa that has
// field reports but no official record, and flags mesas the registrar is
// late on.
type Poller struct {
	client    Client
	awaiting  AwaitingLister
	ingestor  Ingestor
	incidents IncidentOpener
	cfg       PollerConfig

	now func() time.Time
}

// NewPoller wires a sync loop over the given client and intake path.
func NewPoller(client Client, awaiting AwaitingLister, ing Ingestor, inc IncidentOpener, cfg PollerConfig) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.DelayAfter <= 0 {
		cfg.DelayAfter = 45 * time.Minute
	}
	return &Poller{
		client:    client,
		awaiting:  awaiting,
		ingestor:  ing,
		incidents: inc,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SyncOnce runs a single pass: fetch every awaiting mesa, ingest what the
// registrar has published, then open delay incidents for mesas past the
// delay window. Individual mesa failures are counted, not fatal.
func (p *Poller) SyncOnce(ctx context.Context) (*SyncStats, error) {
	log := zap.L().With(zap.String("component", "rnec.poller"))
	now := p.now().UTC()
	stats := &SyncStats{}

	codes, err := p.awaiting.MesasAwaitingOfficial(ctx, now)
	if err != nil {
		return nil, eris.Wrap(err, "rnec: list awaiting mesas")
	}

	for _, code := range codes {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		res, err := p.client.FetchMesa(ctx, code)
		switch {
		case eris.Is(err, ErrMesaNotPublished):
			stats.Pending++
			continue
		case err != nil:
			stats.Failed++
			log.Warn("official fetch failed", zap.String("mesa", code), zap.Error(err))
			continue
		}

		if err := p.ingestOfficial(ctx, res); err != nil {
			stats.Failed++
			log.Error("official ingest failed", zap.String("mesa", code), zap.Error(err))
			continue
		}
		stats.Fetched++
	}

	delayed, err := p.flagDelays(ctx, now)
	if err != nil {
		return stats, err
	}
	stats.Delayed = delayed

	log.Info("sync pass complete",
		zap.Int("fetched", stats.Fetched),
		zap.Int("pending", stats.Pending),
		zap.Int("failed", stats.Failed),
		zap.Int("delayed", stats.Delayed),
	)
	return stats, nil
}

// Run loops SyncOnce until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	zap.L().Info("official feed poller started",
		zap.Duration("interval", p.cfg.PollInterval),
		zap.Duration("delay_after", p.cfg.DelayAfter),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := p.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("sync pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) ingestOfficial(ctx context.Context, res *MesaResult) error {
	niv := res.Nivelacion
	receivedAt := res.PublishedAt
	if receivedAt.IsZero() {
		receivedAt = p.now().UTC()
	}

	_, err := p.ingestor.Ingest(ctx, &ingest.Submission{
		MesaCode:       res.MesaCode,
		Source:         string(model.SourceRNECOfficial),
		CandidateVotes: res.CandidateVotes,
		Nivelacion:     &niv,
		ReceivedAt:     receivedAt,
	})
	return err
}

// flagDelays opens one delay incident per overdue mesa. Re-flagging an
// already open incident attaches an occurrence instead of duplicating it.
func (p *Poller) flagDelays(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-p.cfg.DelayAfter)
	overdue, err := p.awaiting.MesasAwaitingOfficial(ctx, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "rnec: list overdue mesas")
	}

	opened := 0
	for _, code := range overdue {
		summary := fmt.Sprintf("no official result %s after first field report", p.cfg.DelayAfter)
		_, created, err := p.incidents.Open(ctx, code,
			model.IncidentRNECDelay, model.DefaultSeverity(model.IncidentRNECDelay),
			summary, "", "")
		if err != nil {
			return opened, eris.Wrapf(err, "rnec: flag delay for mesa %s", code)
		}
		if created {
			opened++
		}
	}
	return opened, nil
}
