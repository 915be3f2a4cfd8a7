package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preset is a named parameter set for a registered strategy.
type Preset struct {
	Name     string         `yaml:"name" json:"name"`
	Strategy string         `yaml:"strategy" json:"strategy"`
	Params   map[string]any `yaml:"params" json:"params"`
	Doc      string         `yaml:"doc" json:"doc,omitempty"`
}

// PresetFile is the top-level YAML structure.
type PresetFile struct {
	Presets []Preset `yaml:"presets"`
}

// LoadPresets reads presets from a YAML file and validates each against reg.
func LoadPresets(path string, reg *Registry) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file PresetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	seen := make(map[string]bool, len(file.Presets))
	for _, p := range file.Presets {
		if p.Name == "" {
			return nil, fmt.Errorf("preset for %q has no name", p.Strategy)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate preset %q", p.Name)
		}
		seen[p.Name] = true
		if _, err := reg.Validate(p.Strategy, p.Params); err != nil {
			return nil, fmt.Errorf("preset %q: %w", p.Name, err)
		}
	}
	return file.Presets, nil
}

// Resolve expands a preset name into its strategy key and a copy of its params.
// overrides win over preset values.
func Resolve(presets []Preset, name string, overrides map[string]any) (string, map[string]any, bool) {
	for _, p := range presets {
		if p.Name != name {
			continue
		}
		merged := make(map[string]any, len(p.Params)+len(overrides))
		for k, v := range p.Params {
			merged[k] = v
		}
		for k, v := range overrides {
			merged[k] = v
		}
		return p.Strategy, merged, true
	}
	return "", nil, false
}
