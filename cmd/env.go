package main

import (
	"context"

	"github.com/veeduria-co/warroom-cli/internal/dispatch"
	"github.com/veeduria-co/warroom-cli/internal/incident"
	"github.com/veeduria-co/warroom-cli/internal/ingest"
	"github.com/veeduria-co/warroom-cli/internal/reconcile"
	"github.com/veeduria-co/warroom-cli/internal/store"
	"github.com/veeduria-co/warroom-cli/internal/validation"
	"github.com/veeduria-co/warroom-cli/internal/warroom"
	"github.com/veeduria-co/warroom-cli/pkg/push"
)

// env bundles the wired engines behind every long-running command.
type env struct {
	Store     store.Store
	Ingest    *ingest.Engine
	Incidents *incident.Manager
	Dispatch  *dispatch.Engine
	Warroom   *warroom.Aggregator
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	incidents := incident.New(st, cfg.SLA)

	var notifier dispatch.Notifier
	if cfg.Push.WebhookURL != "" {
		notifier = push.New(push.Config{WebhookURL: cfg.Push.WebhookURL})
	}

	return &env{
		Store:     st,
		Ingest:    ingest.New(st, validation.New(cfg.Validate), reconcile.New(cfg.Reconcile), incidents),
		Incidents: incidents,
		Dispatch:  dispatch.New(st, notifier),
		Warroom:   warroom.New(st),
	}, nil
}

func (e *env) Close() {
	_ = e.Store.Close()
}
