// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/roletest/roletest/internal/ansible"
)

const (
	// FormatJSON encodes reports as indented JSON.
	FormatJSON Format = "json"
	// FormatYAML encodes reports as YAML.
	FormatYAML Format = "yaml"
	// FormatTOML encodes reports as TOML.
	FormatTOML Format = "toml"
)

// ErrUnsupportedFormat is returned for report formats other than json, yaml and toml.
var ErrUnsupportedFormat = errors.New("unsupported report format")

type (
	// Format is a report encoding.
	Format string

	// Report summarizes one run.
	Report struct {
		RunID       string                     `json:"run_id" yaml:"run_id" toml:"run_id"`
		Distro      string                     `json:"distro" yaml:"distro" toml:"distro"`
		Image       string                     `json:"image,omitempty" yaml:"image,omitempty" toml:"image,omitempty"`
		Container   string                     `json:"container" yaml:"container" toml:"container"`
		ContainerID string                     `json:"container_id,omitempty" yaml:"container_id,omitempty" toml:"container_id,omitempty"`
		Engine      string                     `json:"engine" yaml:"engine" toml:"engine"`
		Playbook    string                     `json:"playbook" yaml:"playbook" toml:"playbook"`
		Reused      bool                       `json:"reused" yaml:"reused" toml:"reused"`
		CleanedUp   bool                       `json:"cleaned_up" yaml:"cleaned_up" toml:"cleaned_up"`
		Roles       int                        `json:"roles,omitempty" yaml:"roles,omitempty" toml:"roles,omitempty"`
		Collections int                        `json:"collections,omitempty" yaml:"collections,omitempty" toml:"collections,omitempty"`
		Passed      bool                       `json:"passed" yaml:"passed" toml:"passed"`
		ExitCode    int                        `json:"exit_code" yaml:"exit_code" toml:"exit_code"`
		Error       string                     `json:"error,omitempty" yaml:"error,omitempty" toml:"error,omitempty"`
		StartedAt   time.Time                  `json:"started_at" yaml:"started_at" toml:"started_at"`
		FinishedAt  time.Time                  `json:"finished_at" yaml:"finished_at" toml:"finished_at"`
		Duration    time.Duration              `json:"duration_ns" yaml:"duration_ns" toml:"duration_ns"`
		Idempotence *ansible.IdempotenceResult `json:"idempotence,omitempty" yaml:"idempotence,omitempty" toml:"idempotence,omitempty"`
		Steps       []StepResult               `json:"steps" yaml:"steps" toml:"steps"`
	}
)

// FormatFromPath picks the report format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %q (use .json, .yaml or .toml)", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Marshal encodes the report.
func (r *Report) Marshal(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatYAML:
		return yaml.Marshal(r)
	case FormatTOML:
		return toml.Marshal(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// WriteFile writes the report to path in the format implied by its extension.
func (r *Report) WriteFile(path string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := r.Marshal(format)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Step returns the last recorded result for step.
func (r *Report) Step(step Step) (StepResult, bool) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Step == step {
			return r.Steps[i], true
		}
	}
	return StepResult{}, false
}

func (r *Report) record(res StepResult) {
	r.Steps = append(r.Steps, res)
}

func (r *Report) skip(step Step, reason string) {
	r.record(StepResult{Step: step, Status: StatusSkipped, Message: reason})
}

func (r *Report) finish(at time.Time, err error) {
	r.FinishedAt = at
	r.Duration = at.Sub(r.StartedAt)
	r.Passed = err == nil
	r.ExitCode = ExitCodeOf(err)
	if err != nil {
		r.Error = err.Error()
	}
}
