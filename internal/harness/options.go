// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/roletest/roletest/internal/ansible"
	"github.com/roletest/roletest/internal/config"
	"github.com/roletest/roletest/internal/container"
)

const (
	// TestsDir is the role subdirectory holding the test inputs.
	TestsDir = "tests"
	// PrepareFile is the optional playbook run before the requirements.
	PrepareFile = "prepare.yml"
	// RequirementsFile is the optional ansible-galaxy requirements file.
	RequirementsFile = "requirements.yml"

	// DefaultPullBackoff is the base delay between image pull attempts.
	DefaultPullBackoff = 2 * time.Second
)

type (
	// Options are the resolved inputs of a run.
	Options struct {
		Distro          string
		Playbook        string
		RoleDir         string
		MountPath       string
		ContainerID     container.ContainerID
		ImageNamespace  string
		ImageTag        string
		Cleanup         bool
		CleanupOnFail   bool
		TestIdempotence bool
		ReuseContainer  bool
		PullRetries     int
		AnsibleArgs     []string
		// TTY allocates a pseudo-terminal for ansible commands, like `exec --tty`.
		TTY bool
	}

	// Option configures a Runner.
	Option func(*Runner)

	// ProgressFunc is called when a long-running stage starts and finishes.
	ProgressFunc func(ProgressEvent)

	// ProgressEvent describes a progress notification.
	ProgressEvent struct {
		Kind  ProgressKind
		Image container.ImageTag
		Err   error
	}

	// ProgressKind identifies a progress notification.
	ProgressKind int
)

const (
	// PullStarted is sent before the image pull.
	PullStarted ProgressKind = iota + 1
	// PullFinished is sent after the image pull, with Err set on failure.
	PullFinished
)

// FromConfig converts a loaded configuration into run options.
func FromConfig(cfg *config.Config) (Options, error) {
	extra, err := ansible.ParseExtraArgs(cfg.AnsibleArgs)
	if err != nil {
		return Options{}, fmt.Errorf("ansible_args: %w", err)
	}
	return Options{
		Distro:          cfg.Distro,
		Playbook:        cfg.Playbook,
		RoleDir:         cfg.RoleDir,
		MountPath:       cfg.MountPath,
		ContainerID:     container.ContainerID(cfg.ContainerID),
		ImageNamespace:  cfg.Image.Namespace,
		ImageTag:        cfg.Image.Tag,
		Cleanup:         cfg.Cleanup,
		CleanupOnFail:   cfg.CleanupOnFailure,
		TestIdempotence: cfg.TestIdempotence,
		ReuseContainer:  cfg.ReuseContainer,
		PullRetries:     cfg.PullRetries,
		AnsibleArgs:     extra,
	}, nil
}

// WithLogger sets the logger used for step announcements.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithOutput sets where command output is streamed.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) {
		r.stdout = stdout
		r.stderr = stderr
	}
}

// WithPullOutput streams image pull progress to w instead of the run's stdout.
func WithPullOutput(w io.Writer) Option {
	return func(r *Runner) { r.pullOut = w }
}

// WithClock sets the time source used for step durations.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) { r.progress = fn }
}

// WithPullBackoff sets the base backoff between pull attempts.
func WithPullBackoff(d time.Duration) Option {
	return func(r *Runner) { r.pullBackoff = d }
}

func defaultLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{Prefix: "roletest"})
}

func defaultRunner() *Runner {
	return &Runner{
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		now:         time.Now,
		pullBackoff: DefaultPullBackoff,
	}
}
