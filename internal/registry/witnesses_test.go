package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veeduria-co/warroom-cli/internal/model"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadWitnesses(t *testing.T) {
	path := writeRoster(t, `
witnesses:
  - id: w-ana
    name: Ana Torres
    phone: "+573001112233"
    push_enabled: true
    coverage:
      - dept: "5"
        muni: "1"
        puesto: "1"
  - name: Luis Pérez
    phone: "+573004445566"
    coverage:
      - dept: "52"
`)

	witnesses, err := LoadWitnesses(path)
	require.NoError(t, err)
	require.Len(t, witnesses, 2)

	ana := witnesses[0]
	assert.Equal(t, "w-ana", ana.ID)
	assert.True(t, ana.PushEnabled)
	assert.Equal(t, model.WitnessAvailable, ana.Status)
	require.Len(t, ana.Coverage, 1)
	assert.Equal(t, model.Coverage{Dept: "05", Muni: "05001", Puesto: "01"}, ana.Coverage[0])

	luis := witnesses[1]
	assert.NotEmpty(t, luis.ID, "missing id gets generated")
	assert.Equal(t, model.Coverage{Dept: "52"}, luis.Coverage[0])
}

func TestLoadWitnessesAcceptsFullMuniCode(t *testing.T) {
	path := writeRoster(t, `
witnesses:
  - name: Ana Torres
    phone: "+573001112233"
    coverage:
      - dept: "5"
        muni: "05001"
`)

	witnesses, err := LoadWitnesses(path)
	require.NoError(t, err)
	assert.Equal(t, "05001", witnesses[0].Coverage[0].Muni)
}

func TestLoadWitnessesValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"empty roster",
			"witnesses: []",
			"no witnesses",
		},
		{
			"missing phone",
			"witnesses:\n  - name: Ana\n    coverage:\n      - dept: \"05\"",
			"phone is required",
		},
		{
			"missing coverage",
			"witnesses:\n  - name: Ana\n    phone: \"+57300\"",
			"coverage entry is required",
		},
		{
			"puesto without muni",
			"witnesses:\n  - name: Ana\n    phone: \"+57300\"\n    coverage:\n      - dept: \"05\"\n        puesto: \"01\"",
			"puesto requires muni",
		},
		{
			"bad yaml",
			"witnesses: {not a list",
			"parse roster yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWitnesses(writeRoster(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
