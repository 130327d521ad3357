package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/veeduria-co/warroom-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var mesaHeader = []string{
	"dept", "dept_name", "muni", "muni_name", "zona",
	"puesto", "puesto_name", "mesa", "registered_voters", "static_risk",
}

func writeXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("mesas")
	require.NoError(t, err)

	for _, row := range append([][]string{mesaHeader}, rows...) {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().SetString(cell)
		}
	}

	path := filepath.Join(t.TempDir(), "mesas.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mesas.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMesasXLSX(t *testing.T) {
	path := writeXLSX(t, [][]string{
		{"5", "Antioquia", "1", "Medellín", "1", "1", "I.E. La Milagrosa", "3", "350", ""},
		{"52", "Nariño", "835", "Tumaco", "2", "4", "Col. Max Seidel", "12", "280", "EXTREMO"},
	})

	mesas, err := LoadMesas(path, "2026-presidencial")
	require.NoError(t, err)
	require.Len(t, mesas, 2)

	m := mesas[0]
	assert.Equal(t, "05001-01-01-003", m.Code)
	assert.Equal(t, "05", m.Dept)
	assert.Equal(t, "ANTIOQUIA", m.DeptName)
	assert.Equal(t, "05001", m.Muni)
	assert.Equal(t, "MEDELLIN", m.MuniName)
	assert.Equal(t, "I.E. LA MILAGROSA", m.PuestoName)
	assert.Equal(t, "2026-presidencial", m.ContestID)
	assert.Equal(t, model.StaticRiskNormal, m.StaticRisk)
	assert.Equal(t, 350, m.RegisteredVoters)

	m = mesas[1]
	assert.Equal(t, "52835-02-04-012", m.Code)
	assert.Equal(t, model.StaticRiskExtreme, m.StaticRisk)
}

func TestLoadMesasCSV(t *testing.T) {
	path := writeCSV(t,
		"dept,dept_name,muni,muni_name,zona,puesto,puesto_name,mesa,registered_voters,static_risk\n"+
			"11,Bogotá D.C.,1,Bogotá D.C.,5,12,Col. Distrital Quiroga,45,310,ALTO\n")

	mesas, err := LoadMesas(path, "2026-presidencial")
	require.NoError(t, err)
	require.Len(t, mesas, 1)
	assert.Equal(t, "11001-05-12-045", mesas[0].Code)
	assert.Equal(t, "BOGOTA D.C.", mesas[0].DeptName)
	assert.Equal(t, model.StaticRiskHigh, mesas[0].StaticRisk)
}

func TestLoadMesasSkipsMalformedRows(t *testing.T) {
	path := writeXLSX(t, [][]string{
		{"5", "Antioquia", "1", "Medellín", "1", "1", "I.E. La Milagrosa", "3", "350", ""},
		{"5", "Antioquia", "1", "Medellín", "1", "1", "I.E. La Milagrosa", "4", "350", "CATASTROFICO"},
		{"too", "short"},
		{"5", "Antioquia", "1", "Medellín", "1", "1", "I.E. La Milagrosa", "5", "many", ""},
	})

	mesas, err := LoadMesas(path, "2026-presidencial")
	require.NoError(t, err)
	require.Len(t, mesas, 1)
	assert.Equal(t, "05001-01-01-003", mesas[0].Code)
}

func TestLoadMesasUnsupportedExtension(t *testing.T) {
	_, err := LoadMesas("mesas.pdf", "2026-presidencial")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestParseStaticRisk(t *testing.T) {
	tests := []struct {
		in      string
		want    model.StaticRiskLevel
		wantErr bool
	}{
		{"", model.StaticRiskNormal, false},
		{"normal", model.StaticRiskNormal, false},
		{"ALTO", model.StaticRiskHigh, false},
		{"high", model.StaticRiskHigh, false},
		{"Extremo", model.StaticRiskExtreme, false},
		{"EXTREME", model.StaticRiskExtreme, false},
		{"medio", "", true},
	}

	for _, tt := range tests {
		got, err := parseStaticRisk(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
