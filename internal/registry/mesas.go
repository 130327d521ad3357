// Package registry loads the DIVIPOL mesa registry and the witness
// roster from operator-supplied files before election day.
package registry

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/veeduria-co/warroom-cli/internal/location"
	"github.com/veeduria-co/warroom-cli/internal/model"
)

// Registry exports come with a single header row and these columns:
// dept code, dept name, muni code, muni name, zona, puesto, puesto name,
// mesa number, registered voters, static risk.
const mesaColumns = 10

// LoadMesas reads a registry export (.xlsx or .csv) into mesas for one
// contest. Malformed rows are logged and skipped; the import never fails
// halfway because one municipality exported garbage.
func LoadMesas(path, contestID string) ([]model.Mesa, error) {
	var rows [][]string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSXRows(path)
	case ".csv":
		rows, err = readCSVRows(path)
	default:
		return nil, eris.Errorf("registry: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	return parseMesaRows(rows, contestID), nil
}

func parseMesaRows(rows [][]string, contestID string) []model.Mesa {
	log := zap.L().With(zap.String("component", "registry"))

	mesas := make([]model.Mesa, 0, len(rows))
	for i, row := range rows {
		mesa, err := parseMesaRow(row, contestID)
		if err != nil {
			log.Warn("skipping malformed registry row",
				zap.Int("row", i+2), // 1-based, after the header
				zap.Error(err),
			)
			continue
		}
		mesas = append(mesas, mesa)
	}
	return mesas
}

func parseMesaRow(row []string, contestID string) (model.Mesa, error) {
	if len(row) < mesaColumns {
		return model.Mesa{}, eris.Errorf("registry: %d columns, want %d", len(row), mesaColumns)
	}

	dept := location.PadCode(row[0], 2)
	muni := dept + location.PadCode(row[2], 3)
	zona := location.PadCode(row[4], 2)
	puesto := location.PadCode(row[5], 2)
	mesaNum := location.PadCode(row[7], 3)

	code := model.MesaCode(muni, zona, puesto, mesaNum)
	if !model.ValidMesaCode(code) {
		return model.Mesa{}, eris.Errorf("registry: invalid mesa code %q", code)
	}

	risk, err := parseStaticRisk(row[9])
	if err != nil {
		return model.Mesa{}, err
	}

	voters := 0
	if v := strings.TrimSpace(row[8]); v != "" {
		voters, err = strconv.Atoi(v)
		if err != nil {
			return model.Mesa{}, eris.Wrapf(err, "registry: registered voters %q", v)
		}
	}

	return model.Mesa{
		Code:             code,
		Dept:             dept,
		DeptName:         location.NormalizeName(row[1]),
		Muni:             muni,
		MuniName:         location.NormalizeName(row[3]),
		Zona:             zona,
		Puesto:           puesto,
		PuestoName:       location.NormalizeName(row[6]),
		MesaNumber:       mesaNum,
		ContestID:        contestID,
		StaticRisk:       risk,
		RegisteredVoters: voters,
	}, nil
}

// parseStaticRisk accepts the risk source's Spanish labels alongside the
// canonical ones. A blank cell means no elevated risk was reported.
func parseStaticRisk(s string) (model.StaticRiskLevel, error) {
	switch location.NormalizeName(s) {
	case "", "NORMAL":
		return model.StaticRiskNormal, nil
	case "HIGH", "ALTO":
		return model.StaticRiskHigh, nil
	case "EXTREME", "EXTREMO":
		return model.StaticRiskExtreme, nil
	}
	return "", eris.Errorf("registry: unknown static risk %q", s)
}

func readXLSXRows(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("registry: xlsx has no sheets")
	}

	var rows [][]string
	for i, row := range f.Sheets[0].Rows {
		if i == 0 {
			continue // header
		}
		cells := make([]string, 0, len(row.Cells))
		for _, cell := range row.Cells {
			cells = append(cells, cell.String())
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: open csv")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows [][]string
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "registry: read csv row")
		}
		if first {
			first = false
			continue // header
		}
		for i, field := range record {
			record[i] = strings.TrimSpace(field)
		}
		rows = append(rows, record)
	}
}
