package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veeduria-co/warroom-cli/internal/model"
)

func writeBatchFile(t *testing.T, subs []Submission, asArray bool) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.json")

	var data []byte
	if asArray {
		var err error
		data, err = json.Marshal(subs)
		require.NoError(t, err)
	} else {
		for _, sub := range subs {
			line, err := json.Marshal(sub)
			require.NoError(t, err)
			data = append(data, line...)
			data = append(data, '\n')
		}
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestIngestFileArray(t *testing.T) {
	e, s := newTestEngine(t)
	seedMesa(t, e.store, "05001-01-01-003", model.StaticRiskNormal)
	seedMesa(t, e.store, "05001-01-01-004", model.StaticRiskNormal)

	subs := []Submission{
		*submission("05001-01-01-003", "TESTIGO", map[string]int{"C001": 100}),
		*submission("05001-01-01-004", "TESTIGO", map[string]int{"C001": 80}),
	}
	path := writeBatchFile(t, subs, true)

	res, err := e.IngestFile(context.Background(), path, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)
	assert.Zero(t, res.Rejected)
	assert.Zero(t, res.Failed)

	recs, err := s.ListLatestRecords(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestIngestFileLinesRejectsBadRows(t *testing.T) {
	e, _ := newTestEngine(t)
	seedMesa(t, e.store, "05001-01-01-003", model.StaticRiskNormal)

	subs := []Submission{
		*submission("05001-01-01-003", "TESTIGO", map[string]int{"C001": 100}),
		// Unknown mesa and a garbled code: rejected, not fatal.
		*submission("99999-99-99-999", "TESTIGO", map[string]int{"C001": 100}),
		*submission("not-a-mesa", "TESTIGO", map[string]int{"C001": 100}),
	}
	path := writeBatchFile(t, subs, false)

	res, err := e.IngestFile(context.Background(), path, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 2, res.Rejected)
}

func TestIngestFileMissing(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.IngestFile(context.Background(), filepath.Join(t.TempDir(), "absent.json"), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")
}

func TestIngestAllSameMesaKeepsVersionsOrdered(t *testing.T) {
	e, s := newTestEngine(t)
	seedMesa(t, e.store, "05001-01-01-003", model.StaticRiskNormal)

	var subs []Submission
	for i := 0; i < 6; i++ {
		subs = append(subs, *submission("05001-01-01-003", "TESTIGO", map[string]int{"C001": 100 + i}))
	}

	res, err := e.IngestAll(context.Background(), subs, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Accepted)

	recs, err := s.ListRecords(context.Background(), "05001-01-01-003")
	require.NoError(t, err)
	require.Len(t, recs, 6)
	for i, r := range recs {
		assert.Equal(t, i+1, r.Version)
	}
}
