// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"errors"
	"fmt"
	"time"
)

const (
	// StepDistro resolves the distro table entry and checks host-side inputs.
	StepDistro Step = "distro"
	// StepContainer reuses or starts the test container.
	StepContainer Step = "container"
	// StepPrepare runs tests/prepare.yml when present.
	StepPrepare Step = "prepare"
	// StepRequirements installs tests/requirements.yml when present.
	StepRequirements Step = "requirements"
	// StepSyntaxCheck runs ansible-playbook --syntax-check.
	StepSyntaxCheck Step = "syntax-check"
	// StepPlaybook applies the test playbook.
	StepPlaybook Step = "playbook"
	// StepIdempotence re-applies the playbook and checks the recap.
	StepIdempotence Step = "idempotence"
	// StepCleanup removes the container.
	StepCleanup Step = "cleanup"
)

const (
	// StatusPassed marks a step that ran and succeeded.
	StatusPassed Status = "passed"
	// StatusFailed marks the step that stopped the run.
	StatusFailed Status = "failed"
	// StatusSkipped marks a step that did not apply (missing file, disabled option).
	StatusSkipped Status = "skipped"
)

// ErrStepFailed is the sentinel error wrapped by StepError.
var ErrStepFailed = errors.New("step failed")

type (
	// Step names one stage of a run.
	Step string

	// Status is the outcome of a step.
	Status string

	// StepError is returned by Run when a step fails.
	StepError struct {
		Step Step
		// ExitCode is the exit code of the failing command, or 1 for failures without one.
		ExitCode int
		Err      error
	}

	// StepResult records one step in the run report.
	StepResult struct {
		Step     Step          `json:"step" yaml:"step" toml:"step"`
		Status   Status        `json:"status" yaml:"status" toml:"status"`
		Command  string        `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
		ExitCode int           `json:"exit_code" yaml:"exit_code" toml:"exit_code"`
		Duration time.Duration `json:"duration_ns" yaml:"duration_ns" toml:"duration_ns"`
		Message  string        `json:"message,omitempty" yaml:"message,omitempty" toml:"message,omitempty"`
	}
)

// Steps returns every step in execution order.
func Steps() []Step {
	return []Step{
		StepDistro, StepContainer, StepPrepare, StepRequirements,
		StepSyntaxCheck, StepPlaybook, StepIdempotence, StepCleanup,
	}
}

// String returns the step name.
func (s Step) String() string { return string(s) }

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s failed (exit code %d): %v", e.Step, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

// Unwrap returns the underlying cause and ErrStepFailed.
func (e *StepError) Unwrap() []error {
	return []error{ErrStepFailed, e.Err}
}

// ExitCodeOf returns the process exit code for err: 0 for nil, the failing command's code for a
// StepError, and 1 otherwise.
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) && stepErr.ExitCode > 0 {
		return stepErr.ExitCode
	}
	return 1
}
