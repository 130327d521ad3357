package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veeduria-co/warroom-cli/internal/model"
)

func TestSQLiteConcurrentConfirm(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedMesa(t, s, "05001-01-01-003")
	seedMesa(t, s, "05001-01-01-004")

	_, err := s.UpsertWitnesses(ctx, []model.Witness{
		{ID: "w1", Name: "Ana Vargas", Coverage: []model.Coverage{{Dept: "05"}}},
	})
	require.NoError(t, err)

	deadline := time.Now().UTC().Add(10 * time.Minute)
	incA, _, err := s.OpenIncident(ctx, &model.Incident{
		MesaCode: "05001-01-01-003", Type: model.IncidentArithmeticFail,
		Severity: model.SeverityP1, Summary: "a", SLADeadline: deadline,
	})
	require.NoError(t, err)
	incB, _, err := s.OpenIncident(ctx, &model.Incident{
		MesaCode: "05001-01-01-004", Type: model.IncidentArithmeticFail,
		Severity: model.SeverityP1, Summary: "b", SLADeadline: deadline,
	})
	require.NoError(t, err)

	// Two dispatchers race for the same witness. Exactly one confirm
	// lands; the other gets a conflict.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, incID := range []string{incA.ID, incB.ID} {
		wg.Add(1)
		go func(i int, incID string) {
			defer wg.Done()
			_, errs[i] = s.ConfirmAssignment(ctx, &model.Assignment{
				WitnessID: "w1", IncidentID: incID, Priority: model.SeverityP1,
			})
		}(i, incID)
	}
	wg.Wait()

	var conflicts, oks int
	for _, e := range errs {
		if e == nil {
			oks++
		} else {
			assert.ErrorIs(t, e, model.ErrAssignmentConflict)
			conflicts++
		}
	}
	assert.Equal(t, 1, oks)
	assert.Equal(t, 1, conflicts)

	loads, err := s.AssignmentLoads(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loads["w1"])
}

func TestSQLiteConcurrentAppendVersions(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedMesa(t, s, "05001-01-01-003")

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendRecord(ctx, testRecord("05001-01-01-003", model.SourceTestigo), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	recs, err := s.ListRecords(ctx, "05001-01-01-003")
	require.NoError(t, err)
	require.Len(t, recs, writers)

	seen := make(map[int]bool)
	for _, r := range recs {
		assert.False(t, seen[r.Version], "duplicate version %d", r.Version)
		seen[r.Version] = true
	}
	for v := 1; v <= writers; v++ {
		assert.True(t, seen[v], "missing version %d", v)
	}
}
