package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/veeduria-co/warroom-cli/internal/config"
)

// Checker runs periodic SLA checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.WatchConfig
}

// NewChecker creates a background SLA checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.WatchConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := c.cfg.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting sla checker",
		zap.Duration("interval", interval),
		zap.Duration("warn_before", c.cfg.WarnBefore),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("sla checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.cfg.WarnBefore)
	if err != nil {
		log.Error("monitoring: failed to collect sla snapshot", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: queue within sla")
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: sla check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
}
