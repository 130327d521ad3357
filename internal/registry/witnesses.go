package registry

import (
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/veeduria-co/warroom-cli/internal/location"
	"github.com/veeduria-co/warroom-cli/internal/model"
)

// rosterFile is the top-level shape of a witness roster YAML file.
type rosterFile struct {
	Witnesses []model.Witness `yaml:"witnesses"`
}

// LoadWitnesses reads a witness roster from YAML. Every witness needs a
// name, a phone, and at least one coverage entry; a missing id gets a
// generated one so re-imports of the same file stay idempotent only when
// ids are pinned.
func LoadWitnesses(path string) ([]model.Witness, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read roster")
	}

	var roster rosterFile
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, eris.Wrap(err, "registry: parse roster yaml")
	}
	if len(roster.Witnesses) == 0 {
		return nil, eris.New("registry: roster has no witnesses")
	}

	for i := range roster.Witnesses {
		w := &roster.Witnesses[i]
		if err := normalizeWitness(w); err != nil {
			return nil, eris.Wrapf(err, "registry: witness %d (%s)", i+1, w.Name)
		}
	}
	return roster.Witnesses, nil
}

func normalizeWitness(w *model.Witness) error {
	if w.Name == "" {
		return eris.New("name is required")
	}
	if w.Phone == "" {
		return eris.New("phone is required")
	}
	if len(w.Coverage) == 0 {
		return eris.New("at least one coverage entry is required")
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.Status = model.WitnessAvailable

	for i := range w.Coverage {
		c := &w.Coverage[i]
		if c.Dept == "" {
			return eris.Errorf("coverage %d: dept is required", i+1)
		}
		c.Dept = location.PadCode(c.Dept, 2)
		if c.Muni != "" {
			c.Muni = c.Dept + location.PadCode(c.Muni, 3)
			// Tolerate rosters that already carry the 5-digit code.
			if len(c.Muni) > 5 {
				c.Muni = c.Muni[len(c.Muni)-5:]
			}
		}
		if c.Puesto != "" {
			if c.Muni == "" {
				return eris.Errorf("coverage %d: puesto requires muni", i+1)
			}
			c.Puesto = location.PadCode(c.Puesto, 2)
		}
	}
	return nil
}
