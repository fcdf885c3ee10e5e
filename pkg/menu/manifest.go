// Package menu loads the static navigation manifest and filters it down
// to what the resolved tenant snapshot is allowed to see.
package menu

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tillworks/accessgate/pkg/entitlement"
)

// Item is a single navigation entry bound to a module code
type Item struct {
	Label  string `yaml:"label" json:"label"`
	Module string `yaml:"module" json:"module"`
}

// Group is a named set of items rendered together
type Group struct {
	Name  string `yaml:"name" json:"name"`
	Items []Item `yaml:"items" json:"items"`
}

// Manifest is the full navigation tree as declared in YAML
type Manifest struct {
	Groups []Group `yaml:"groups" json:"groups"`
}

// ParseManifest decodes and validates manifest YAML. Every item must name
// a known module code so a typo cannot silently hide an entry.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse menu manifest: %w", err)
	}
	if len(m.Groups) == 0 {
		return nil, fmt.Errorf("menu manifest has no groups")
	}
	for _, g := range m.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("menu manifest group with empty name")
		}
		for _, it := range g.Items {
			if it.Label == "" {
				return nil, fmt.Errorf("menu group %q: item with empty label", g.Name)
			}
			if _, err := entitlement.ParseModuleCode(it.Module); err != nil {
				return nil, fmt.Errorf("menu group %q item %q: %w", g.Name, it.Label, err)
			}
		}
	}
	return &m, nil
}

// LoadManifest reads and parses a manifest file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read menu manifest: %w", err)
	}
	return ParseManifest(data)
}
