package mapping

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest describes one signalling area: which mapping file covers it and
// the highest register address the area's TD emits.
//
//	area: cambridge
//	description: Cambridge station and approaches
//	mapping: cambridge.csv
//	max_address: 200
type Manifest struct {
	Area        string `yaml:"area" json:"area"`
	Description string `yaml:"description" json:"description,omitempty"`
	Mapping     string `yaml:"mapping" json:"mapping"`
	MaxAddress  *int   `yaml:"max_address,omitempty" json:"max_address,omitempty"`

	dir string
}

// LoadManifest reads a YAML area manifest. Relative mapping paths resolve
// against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	if m.Area == "" {
		return nil, fmt.Errorf("manifest %s: area is required", path)
	}
	if m.Mapping == "" {
		return nil, fmt.Errorf("manifest %s: mapping is required", path)
	}
	if m.MaxAddress != nil && (*m.MaxAddress < 0 || *m.MaxAddress > 255) {
		return nil, fmt.Errorf("manifest %s: max_address %d out of range 0..255", path, *m.MaxAddress)
	}

	m.dir = filepath.Dir(path)
	return &m, nil
}

// MappingPath returns the absolute or manifest-relative path of the CSV.
func (m *Manifest) MappingPath() string {
	if filepath.IsAbs(m.Mapping) {
		return m.Mapping
	}
	return filepath.Join(m.dir, m.Mapping)
}

// LoadTable loads the referenced mapping and checks it against max_address.
func (m *Manifest) LoadTable() (*Table, error) {
	table, err := LoadFile(m.MappingPath())
	if err != nil {
		return nil, err
	}

	if m.MaxAddress == nil {
		return table, nil
	}
	for _, e := range table.ordered {
		if int(e.Address) > *m.MaxAddress {
			return nil, &MapFormatError{
				Line:   e.Line,
				Reason: fmt.Sprintf("address %d exceeds max_address %d of area %s", e.Address, *m.MaxAddress, m.Area),
			}
		}
		if e.Back.Present() && int(e.Back.Target.Address) > *m.MaxAddress {
			return nil, &MapFormatError{
				Line:   e.Line,
				Reason: fmt.Sprintf("backreference address %d exceeds max_address %d of area %s", e.Back.Target.Address, *m.MaxAddress, m.Area),
			}
		}
	}
	return table, nil
}
