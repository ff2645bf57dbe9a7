// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"mvdan.cc/sh/v3/syntax"

	"github.com/roletest/roletest/internal/ansible"
	"github.com/roletest/roletest/internal/container"
	"github.com/roletest/roletest/internal/distro"
	"github.com/roletest/roletest/internal/issue"
)

type (
	// Runner executes role test runs against one container engine.
	Runner struct {
		engine   container.Engine
		registry *distro.Registry
		opts     Options
		tool     ansible.Tool

		logger      *log.Logger
		stdout      io.Writer
		stderr      io.Writer
		pullOut     io.Writer
		now         func() time.Time
		progress    ProgressFunc
		pullBackoff time.Duration
	}

	// runState is the mutable state of a single Run.
	runState struct {
		report       *Report
		distro       distro.Distro
		requirements *ansible.Requirements
		prepare      bool
		containerUp  bool
	}
)

// New creates a Runner. A nil registry uses the built-in distro table.
func New(engine container.Engine, registry *distro.Registry, opts Options, options ...Option) *Runner {
	r := defaultRunner()
	r.engine = engine
	r.registry = registry
	r.opts = opts
	for _, o := range options {
		o(r)
	}
	if r.registry == nil {
		r.registry = distro.Default()
	}
	if r.logger == nil {
		r.logger = defaultLogger(r.stderr)
	}
	if r.pullOut == nil {
		r.pullOut = r.stdout
	}
	if r.opts.PullRetries < 1 {
		r.opts.PullRetries = 1
	}
	r.tool = ansible.NewTool(opts.AnsibleArgs)
	return r
}

// Run executes every step in order and stops at the first failure.
// The returned report is never nil, including on failure.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	st := &runState{report: &Report{
		RunID:     uuid.New().String(),
		Distro:    r.opts.Distro,
		Container: string(r.opts.ContainerID),
		Engine:    r.engine.Name(),
		Playbook:  r.opts.Playbook,
		StartedAt: r.now(),
	}}

	err := r.run(ctx, st)
	if err != nil {
		err = r.abort(ctx, st, err)
	}
	st.report.finish(r.now(), err)
	return st.report, err
}

func (r *Runner) run(ctx context.Context, st *runState) error {
	if err := r.resolve(st); err != nil {
		return err
	}
	if err := r.ensureContainer(ctx, st); err != nil {
		return err
	}

	testsDir := path.Join(r.opts.MountPath, TestsDir)

	if st.prepare {
		r.logger.Info("Running preparation playbook", "playbook", path.Join(TestsDir, PrepareFile))
		if err := r.exec(ctx, st, StepPrepare, r.tool.PlaybookCommand(path.Join(testsDir, PrepareFile)), issue.PlaybookFailedId); err != nil {
			return err
		}
	} else {
		st.report.skip(StepPrepare, "no "+path.Join(TestsDir, PrepareFile))
	}

	if st.requirements != nil {
		if err := r.installRequirements(ctx, st, path.Join(testsDir, RequirementsFile)); err != nil {
			return err
		}
	} else {
		st.report.skip(StepRequirements, "no "+path.Join(TestsDir, RequirementsFile))
	}

	playbook := path.Join(testsDir, r.opts.Playbook)

	r.logger.Info("Checking Ansible playbook syntax", "playbook", r.opts.Playbook)
	if err := r.exec(ctx, st, StepSyntaxCheck, r.tool.SyntaxCheckCommand(playbook), issue.SyntaxCheckFailedId); err != nil {
		return err
	}

	r.logger.Info("Running command", "playbook", r.opts.Playbook)
	if err := r.exec(ctx, st, StepPlaybook, r.tool.PlaybookCommand(playbook), issue.PlaybookFailedId); err != nil {
		return err
	}

	if r.opts.TestIdempotence {
		if err := r.checkIdempotence(ctx, st, playbook); err != nil {
			return err
		}
	} else {
		st.report.skip(StepIdempotence, "disabled")
	}

	return r.cleanup(ctx, st)
}

// resolve looks up the distro and validates the host-side inputs before any container exists.
func (r *Runner) resolve(st *runState) error {
	started := r.now()

	d, err := r.registry.Lookup(r.opts.Distro)
	if err != nil {
		return r.failStep(st, StepDistro, started, "", 1, issue.NewErrorContext().
			WithOperation("resolve distro").
			WithResource(r.opts.Distro).
			WithIssue(issue.UnknownDistroId).
			WithSuggestion("Run 'roletest distros' to list supported distros").
			Wrap(err).
			BuildError())
	}
	st.distro = d
	st.report.Image = string(d.Image(r.opts.ImageNamespace, r.opts.ImageTag))

	testsDir := filepath.Join(r.opts.RoleDir, TestsDir)
	playbook := filepath.Join(testsDir, filepath.FromSlash(r.opts.Playbook))
	if !fileExists(playbook) {
		return r.failStep(st, StepDistro, started, "", 1, issue.NewErrorContext().
			WithOperation("find test playbook").
			WithResource(playbook).
			WithIssue(issue.PlaybookNotFoundId).
			Wrap(fmt.Errorf("%w: %s", os.ErrNotExist, playbook)).
			BuildError())
	}

	st.prepare = fileExists(filepath.Join(testsDir, PrepareFile))

	if reqPath := filepath.Join(testsDir, RequirementsFile); fileExists(reqPath) {
		reqs, err := ansible.LoadRequirements(reqPath)
		if err != nil {
			return r.failStep(st, StepRequirements, started, "", 1, issue.NewErrorContext().
				WithOperation("parse requirements").
				WithResource(reqPath).
				WithSuggestion("Check the YAML syntax of tests/requirements.yml").
				Wrap(err).
				BuildError())
		}
		st.requirements = reqs
		st.report.Roles = len(reqs.Roles)
		st.report.Collections = len(reqs.Collections)
	}

	st.report.record(StepResult{
		Step:     StepDistro,
		Status:   StatusPassed,
		Duration: r.now().Sub(started),
		Message:  d.Name + " (" + d.Init + ")",
	})
	return nil
}

// ensureContainer reuses an existing container when asked to, otherwise pulls the image and
// starts a detached container booting the distro's init.
func (r *Runner) ensureContainer(ctx context.Context, st *runState) error {
	started := r.now()
	name := r.opts.ContainerID
	image := container.ImageTag(st.report.Image)

	if r.opts.ReuseContainer {
		state, err := r.engine.Inspect(ctx, name)
		if err != nil {
			return r.failStep(st, StepContainer, started, "", 1, err)
		}
		if state.Exists {
			st.containerUp = true
			st.report.Reused = true
			msg := "reused running container"
			if !state.Running {
				if err := r.engine.Resume(ctx, name); err != nil {
					return r.failStep(st, StepContainer, started, "", 1, err)
				}
				msg = "reused stopped container"
			}
			r.logger.Info("Reusing container", "container", name)
			st.report.record(StepResult{Step: StepContainer, Status: StatusPassed, Duration: r.now().Sub(started), Message: msg})
			return nil
		}
		r.logger.Debug("No container to reuse", "container", name)
	}

	r.logger.Info("Pulling image", "image", image)
	r.notify(ProgressEvent{Kind: PullStarted, Image: image})
	err := container.PullWithRetry(ctx, r.engine, image, r.opts.PullRetries, r.pullBackoff, r.pullOut, r.pullOut)
	r.notify(ProgressEvent{Kind: PullFinished, Image: image, Err: err})
	if err != nil {
		return r.failStep(st, StepContainer, started, "", 1, err)
	}

	volumes := append(st.distro.Volumes(), container.VolumeMount{
		HostPath:      container.HostFilesystemPath(r.opts.RoleDir),
		ContainerPath: container.MountTargetPath(r.opts.MountPath),
		ReadWrite:     true,
	})

	r.logger.Info("Starting container", "container", name, "init", st.distro.Init)
	id, err := r.engine.Start(ctx, container.StartOptions{
		Image:      image,
		Name:       name,
		Command:    st.distro.Command(),
		Privileged: st.distro.Privileged,
		Volumes:    volumes,
	})
	if err != nil {
		return r.failStep(st, StepContainer, started, "", 1, err)
	}
	st.containerUp = true
	st.report.ContainerID = string(id)
	st.report.record(StepResult{Step: StepContainer, Status: StatusPassed, Duration: r.now().Sub(started), Message: "started " + string(id)})
	return nil
}

func (r *Runner) installRequirements(ctx context.Context, st *runState, reqPath string) error {
	reqs := st.requirements
	if reqs.HasRoles() || !reqs.HasCollections() {
		r.logger.Info("Installing role requirements", "roles", len(reqs.Roles))
		if err := r.exec(ctx, st, StepRequirements, r.tool.GalaxyInstallCommand(reqPath), issue.PlaybookFailedId); err != nil {
			return err
		}
	}
	if reqs.HasCollections() {
		r.logger.Info("Installing collection requirements", "collections", len(reqs.Collections))
		if err := r.exec(ctx, st, StepRequirements, r.tool.CollectionInstallCommand(reqPath), issue.PlaybookFailedId); err != nil {
			return err
		}
	}
	return nil
}

// checkIdempotence re-runs the playbook, tees its output and greps the trailing recap.
// The verdict comes from the recap alone, not from the second run's exit code.
func (r *Runner) checkIdempotence(ctx context.Context, st *runState, playbook string) error {
	r.logger.Info("Running playbook again: idempotence test", "playbook", r.opts.Playbook)

	var captured bytes.Buffer
	started := r.now()
	argv := r.tool.IdempotenceCommand(playbook)
	res, err := r.engine.Exec(ctx, r.opts.ContainerID, container.ExecOptions{
		Command: argv,
		TTY:     r.opts.TTY,
		Stdout:  io.MultiWriter(r.stdout, &captured),
		Stderr:  r.stderr,
	})
	if err != nil {
		return r.failStep(st, StepIdempotence, started, quoteCommand(argv), 1, err)
	}

	result := ansible.CheckIdempotence(captured.String())
	st.report.Idempotence = &result
	if !result.Passed {
		r.logger.Error("Idempotence test: fail")
		return r.failStep(st, StepIdempotence, started, quoteCommand(argv), 1, issue.NewErrorContext().
			WithOperation("check idempotence").
			WithResource(r.opts.Playbook).
			WithIssue(issue.IdempotenceFailedId).
			Wrap(fmt.Errorf("no 'changed=0 ... failed=0' recap in the last %d lines of output", ansible.TailLines)).
			BuildError())
	}

	r.logger.Info("Idempotence test: pass")
	st.report.record(StepResult{
		Step:     StepIdempotence,
		Status:   StatusPassed,
		Command:  quoteCommand(argv),
		ExitCode: res.ExitCode,
		Duration: r.now().Sub(started),
	})
	return nil
}

func (r *Runner) cleanup(ctx context.Context, st *runState) error {
	if !r.opts.Cleanup {
		r.logger.Info("Leaving container running", "container", r.opts.ContainerID)
		st.report.skip(StepCleanup, "cleanup disabled")
		return nil
	}

	started := r.now()
	r.logger.Info("Removing container", "container", r.opts.ContainerID)
	if err := r.engine.Remove(ctx, r.opts.ContainerID, true); err != nil {
		return r.failStep(st, StepCleanup, started, "", 1, err)
	}
	st.containerUp = false
	st.report.CleanedUp = true
	st.report.record(StepResult{Step: StepCleanup, Status: StatusPassed, Duration: r.now().Sub(started)})
	return nil
}

// abort handles a failed run: the container stays for inspection unless cleanup_on_failure
// is set. Cleanup only governs successful runs.
func (r *Runner) abort(ctx context.Context, st *runState, cause error) error {
	if !st.containerUp {
		return cause
	}
	if r.opts.CleanupOnFail {
		// The run context may be the reason we are here.
		rmCtx := context.WithoutCancel(ctx)
		if err := r.engine.Remove(rmCtx, r.opts.ContainerID, true); err != nil {
			r.logger.Warn("Failed to remove container", "container", r.opts.ContainerID, "err", err)
			return cause
		}
		st.report.CleanedUp = true
		return cause
	}
	r.logger.Warn("Container kept for inspection", "container", r.opts.ContainerID,
		"shell", "roletest shell "+string(r.opts.ContainerID),
		"remove", "roletest down "+string(r.opts.ContainerID))
	return cause
}

// exec runs argv in the test container and turns a non-zero exit into a StepError.
func (r *Runner) exec(ctx context.Context, st *runState, step Step, argv []string, failIssue issue.Id) error {
	cmdline := quoteCommand(argv)
	r.logger.Debug("exec", "container", r.opts.ContainerID, "cmd", cmdline)

	started := r.now()
	res, err := r.engine.Exec(ctx, r.opts.ContainerID, container.ExecOptions{
		Command: argv,
		TTY:     r.opts.TTY,
		Stdout:  r.stdout,
		Stderr:  r.stderr,
	})
	if err != nil {
		return r.failStep(st, step, started, cmdline, 1, err)
	}
	if res.ExitCode != 0 {
		return r.failStep(st, step, started, cmdline, res.ExitCode, issue.NewErrorContext().
			WithOperation(string(step)).
			WithResource(string(r.opts.ContainerID)).
			WithIssue(failIssue).
			Wrap(fmt.Errorf("%s exited with code %d", argv0(argv), res.ExitCode)).
			BuildError())
	}

	st.report.record(StepResult{Step: step, Status: StatusPassed, Command: cmdline, Duration: r.now().Sub(started)})
	return nil
}

func (r *Runner) failStep(st *runState, step Step, started time.Time, cmdline string, exitCode int, err error) error {
	st.report.record(StepResult{
		Step:     step,
		Status:   StatusFailed,
		Command:  cmdline,
		ExitCode: exitCode,
		Duration: r.now().Sub(started),
		Message:  err.Error(),
	})
	return &StepError{Step: step, ExitCode: exitCode, Err: err}
}

func (r *Runner) notify(ev ProgressEvent) {
	if r.progress != nil {
		r.progress(ev)
	}
}

// argv0 returns the program name of an ansible command line, skipping the env(1) prefix.
func argv0(argv []string) string {
	for _, a := range argv {
		if a == "env" || strings.Contains(a, "=") {
			continue
		}
		return a
	}
	return strings.Join(argv, " ")
}

// quoteCommand renders argv as a copy-pasteable shell command line.
func quoteCommand(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		q, err := syntax.Quote(a, syntax.LangBash)
		if err != nil {
			q = fmt.Sprintf("%q", a)
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " ")
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
