package install

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed manifest.yaml
var defaultManifest []byte

// Kind classifies a manifest entry.
type Kind string

const (
	KindBinary     Kind = "binary"
	KindConfig     Kind = "config"
	KindMan        Kind = "man"
	KindCompletion Kind = "completion"
	KindUnit       Kind = "unit"
	KindCNI        Kind = "cni"
)

// FileMode is a permission mode written as an octal string.
type FileMode fs.FileMode

// UnmarshalYAML parses values such as "0755".
func (m *FileMode) UnmarshalYAML(value *yaml.Node) error {
	v, err := strconv.ParseUint(value.Value, 8, 32)
	if err != nil {
		return fmt.Errorf("line %d: invalid mode %q: %w", value.Line, value.Value, err)
	}
	*m = FileMode(fs.FileMode(v).Perm())
	return nil
}

// Entry is one group of files sharing a destination.
type Entry struct {
	Name     string   `yaml:"name"`
	Kind     Kind     `yaml:"kind"`
	Dir      string   `yaml:"dir"`
	Mode     FileMode `yaml:"mode"`
	Sources  []string `yaml:"sources"`
	Optional bool     `yaml:"optional"`
}

// Manifest lists everything copied from a bundle.
type Manifest struct {
	Entries []Entry `yaml:"entries"`
}

// DefaultManifest returns the embedded manifest.
func DefaultManifest() (*Manifest, error) {
	return ParseManifest(defaultManifest)
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks every entry for the fields the installer needs.
func (m *Manifest) Validate() error {
	if len(m.Entries) == 0 {
		return errors.New("manifest has no entries")
	}

	for i, e := range m.Entries {
		switch {
		case e.Name == "":
			return fmt.Errorf("manifest entry %d: missing name", i)
		case e.Dir == "":
			return fmt.Errorf("manifest entry %s: missing dir", e.Name)
		case e.Mode == 0:
			return fmt.Errorf("manifest entry %s: missing mode", e.Name)
		case len(e.Sources) == 0:
			return fmt.Errorf("manifest entry %s: no sources", e.Name)
		}

		switch e.Kind {
		case KindBinary, KindConfig, KindMan, KindCompletion, KindUnit, KindCNI:
		default:
			return fmt.Errorf("manifest entry %s: unknown kind %q", e.Name, e.Kind)
		}

		for _, src := range e.Sources {
			if path.IsAbs(src) || !fs.ValidPath(src) {
				return fmt.Errorf("manifest entry %s: source %q must be relative to the bundle root", e.Name, src)
			}
			if _, err := path.Match(src, ""); err != nil {
				return fmt.Errorf("manifest entry %s: source %q: %w", e.Name, src, err)
			}
		}
	}

	return nil
}
