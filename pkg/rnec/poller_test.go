package rnec

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veeduria-co/warroom-cli/internal/config"
	"github.com/veeduria-co/warroom-cli/internal/incident"
	"github.com/veeduria-co/warroom-cli/internal/ingest"
	"github.com/veeduria-co/warroom-cli/internal/model"
	"github.com/veeduria-co/warroom-cli/internal/reconcile"
	"github.com/veeduria-co/warroom-cli/internal/store"
	"github.com/veeduria-co/warroom-cli/internal/validation"
)

type fakeClient struct {
	mu      sync.Mutex
	results map[string]*MesaResult
	errs    map[string]error
	calls   []string
}

func (f *fakeClient) FetchMesa(ctx context.Context, mesaCode string) (*MesaResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mesaCode)
	if err, ok := f.errs[mesaCode]; ok {
		return nil, err
	}
	if res, ok := f.results[mesaCode]; ok {
		return res, nil
	}
	return nil, eris.Wrapf(ErrMesaNotPublished, "mesa %s", mesaCode)
}

func newTestPoller(t *testing.T, fc *fakeClient) (*Poller, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	mgr := incident.New(s, config.SLAConfig{
		P0: 5 * time.Minute, P1: 10 * time.Minute,
		P2: 30 * time.Minute, P3: 120 * time.Minute,
	})
	eng := ingest.New(s,
		validation.New(config.ValidateConfig{LowConfidence: 0.70, IncidentConfidence: 0.50, E11Margin: 0}),
		reconcile.New(config.ReconcileConfig{DiscrepancyPct: 0.05, CriticalPct: 0.15, MismatchVotes: 1}),
		mgr,
	)

	p := NewPoller(fc, s, eng, mgr, PollerConfig{DelayAfter: 45 * time.Minute})
	return p, s
}

func seedMesa(t *testing.T, s store.Store, code string) {
	t.Helper()
	_, err := s.UpsertMesas(context.Background(), []model.Mesa{{
		Code: code, Dept: code[:2], Muni: code[:5], Zona: code[6:8],
		Puesto: code[9:11], MesaNumber: code[12:], ContestID: "2026-senado",
		StaticRisk: model.StaticRiskNormal,
	}})
	require.NoError(t, err)
}

func seedFieldReport(t *testing.T, p *Poller, code string, votes map[string]int, receivedAt time.Time) {
	t.Helper()
	total := 0
	for _, v := range votes {
		total += v
	}
	_, err := p.ingestor.Ingest(context.Background(), &ingest.Submission{
		MesaCode:       code,
		Source:         string(model.SourceTestigo),
		CandidateVotes: votes,
		Nivelacion: &model.Nivelacion{
			Sufragantes:  total + 30,
			VotosEnUrna:  total + 30,
			VotosValidos: total,
			VotosBlanco:  18,
			VotosNulos:   12,
		},
		JuradosFirmantes: 6,
		JuradosTotal:     6,
		ReceivedAt:       receivedAt,
	})
	require.NoError(t, err)
}

func officialResult(code string, votes map[string]int) *MesaResult {
	total := 0
	for _, v := range votes {
		total += v
	}
	return &MesaResult{
		MesaCode:       code,
		CandidateVotes: votes,
		Nivelacion: model.Nivelacion{
			Sufragantes:  total + 30,
			VotosEnUrna:  total + 30,
			VotosValidos: total,
			VotosBlanco:  18,
			VotosNulos:   12,
		},
		PublishedAt: time.Now().UTC(),
	}
}

func TestSyncOnceIngestsPublishedResult(t *testing.T) {
	code := "05001-01-01-003"
	votes := map[string]int{"C001": 120, "C002": 95}
	fc := &fakeClient{results: map[string]*MesaResult{code: officialResult(code, votes)}}
	p, s := newTestPoller(t, fc)
	seedMesa(t, s, code)
	seedFieldReport(t, p, code, votes, time.Now().UTC())

	stats, err := p.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fetched)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.Delayed)

	latest, err := s.ListLatestRecords(context.Background(), code)
	require.NoError(t, err)
	sources := make(map[model.Source]bool, len(latest))
	for _, rec := range latest {
		sources[rec.Source] = true
	}
	assert.True(t, sources[model.SourceRNECOfficial], "official record persisted")

	// Mesa no longer awaits its official result.
	awaiting, err := s.MesasAwaitingOfficial(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, awaiting)
}

func TestSyncOnceCountsUnpublishedAsPending(t *testing.T) {
	code := "05001-01-01-003"
	fc := &fakeClient{}
	p, s := newTestPoller(t, fc)
	seedMesa(t, s, code)
	seedFieldReport(t, p, code, map[string]int{"C001": 120}, time.Now().UTC())

	stats, err := p.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Fetched)
	assert.Equal(t, 1, stats.Pending)
	assert.Zero(t, stats.Delayed, "recent report is not overdue")
	assert.Equal(t, []string{code}, fc.calls)
}

func TestSyncOnceFlagsOverdueMesa(t *testing.T) {
	code := "05001-01-01-003"
	fc := &fakeClient{}
	p, s := newTestPoller(t, fc)
	seedMesa(t, s, code)
	seedFieldReport(t, p, code, map[string]int{"C001": 120}, time.Now().UTC().Add(-2*time.Hour))

	stats, err := p.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Delayed)

	incidents, err := s.ListIncidents(context.Background(), store.IncidentFilter{MesaCode: code})
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, model.IncidentRNECDelay, incidents[0].Type)
	assert.Equal(t, model.SeverityP3, incidents[0].Severity)

	// A second pass attaches to the open incident instead of duplicating.
	stats, err = p.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Delayed)

	incidents, err = s.ListIncidents(context.Background(), store.IncidentFilter{MesaCode: code})
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, 2, incidents[0].Occurrences)
}

func TestSyncOnceCountsFetchFailures(t *testing.T) {
	code := "05001-01-01-003"
	fc := &fakeClient{errs: map[string]error{code: eris.New("rnec: status 500")}}
	p, s := newTestPoller(t, fc)
	seedMesa(t, s, code)
	seedFieldReport(t, p, code, map[string]int{"C001": 120}, time.Now().UTC())

	stats, err := p.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Fetched)
}

func TestSyncOnceOfficialDisagreementOpensDiscrepancy(t *testing.T) {
	code := "05001-01-01-003"
	official := officialResult(code, map[string]int{"C001": 150, "C002": 95})
	fc := &fakeClient{results: map[string]*MesaResult{code: official}}
	p, s := newTestPoller(t, fc)
	seedMesa(t, s, code)
	seedFieldReport(t, p, code, map[string]int{"C001": 120, "C002": 95}, time.Now().UTC())

	stats, err := p.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fetched)

	incidents, err := s.ListIncidents(context.Background(), store.IncidentFilter{MesaCode: code})
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, model.IncidentDiscrepancyRNEC, incidents[0].Type)
}
