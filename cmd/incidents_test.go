package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/veeduria-co/warroom-cli/internal/model"
)

func TestFormatIncidentsList(t *testing.T) {
	now := time.Now().UTC()
	incidents := []model.Incident{
		{
			ID: "11111111-2222-3333-4444-555555555555", MesaCode: "05001-01-01-003",
			Type: model.IncidentArithmeticFail, Severity: model.SeverityP1,
			Status: model.IncidentOpen, Occurrences: 2,
			SLADeadline: now.Add(8 * time.Minute),
		},
		{
			ID: "66666666-7777-8888-9999-000000000000", MesaCode: "52835-02-04-012",
			Type: model.IncidentDiscrepancyRNEC, Severity: model.SeverityP0,
			Status: model.IncidentOpen, Occurrences: 1,
			SLADeadline: now.Add(-3 * time.Minute),
		},
		{
			ID: "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", MesaCode: "11001-05-12-045",
			Type: model.IncidentOCRLowConf, Severity: model.SeverityP2,
			Status: model.IncidentResolved, Occurrences: 1,
			SLADeadline: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatIncidentsList(&buf, incidents)
	out := buf.String()

	assert.Contains(t, out, "11111111")
	assert.NotContains(t, out, "2222-3333", "ids are truncated")
	assert.Contains(t, out, "ARITHMETIC_FAIL")
	assert.Contains(t, out, "BREACHED", "overdue open incident shows breach")

	// Terminal incidents show no SLA countdown.
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "RESOLVED") {
			assert.True(t, strings.HasSuffix(strings.TrimRight(line, " "), "-"))
		}
	}
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("123456789abc"))
	assert.Equal(t, "short", truncateID("short"))
}
