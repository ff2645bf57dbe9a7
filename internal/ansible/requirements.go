// SPDX-License-Identifier: MPL-2.0

package ansible

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRequirements is returned when a requirements file has an unsupported shape.
var ErrInvalidRequirements = errors.New("invalid requirements file")

type (
	// Requirement is a single role or collection entry.
	Requirement struct {
		Name    string `yaml:"name"`
		Src     string `yaml:"src"`
		Version string `yaml:"version"`
		Scm     string `yaml:"scm"`
		Source  string `yaml:"source"`
	}

	// Requirements is the parsed content of a requirements.yml file.
	Requirements struct {
		Roles       []Requirement `yaml:"roles"`
		Collections []Requirement `yaml:"collections"`
	}
)

// UnmarshalYAML accepts both the mapping form and the bare "namespace.name" string form.
func (r *Requirement) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.Name = node.Value
		return nil
	}
	type plain Requirement
	return node.Decode((*plain)(r))
}

// Label returns the most descriptive identifier of the entry.
func (r Requirement) Label() string {
	switch {
	case r.Name != "":
		return r.Name
	case r.Src != "":
		return r.Src
	default:
		return "<unnamed>"
	}
}

// HasCollections reports whether collection installs are needed.
func (r *Requirements) HasCollections() bool { return len(r.Collections) > 0 }

// HasRoles reports whether role installs are needed.
func (r *Requirements) HasRoles() bool { return len(r.Roles) > 0 }

// ParseRequirements parses requirements.yml content.
// A top-level list is the legacy roles-only form; a mapping carries roles and collections keys.
func ParseRequirements(data []byte) (*Requirements, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequirements, err)
	}

	reqs := &Requirements{}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return reqs, nil
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&reqs.Roles); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequirements, err)
		}
	case yaml.MappingNode:
		if err := root.Decode(reqs); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequirements, err)
		}
	case yaml.ScalarNode:
		if root.Tag == "!!null" {
			return reqs, nil
		}
		return nil, fmt.Errorf("%w: expected a list or a mapping, got scalar %q", ErrInvalidRequirements, root.Value)
	default:
		return nil, fmt.Errorf("%w: expected a list or a mapping", ErrInvalidRequirements)
	}

	return reqs, nil
}

// LoadRequirements reads and parses a requirements file from disk.
func LoadRequirements(path string) (*Requirements, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read requirements: %w", err)
	}
	reqs, err := ParseRequirements(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reqs, nil
}
