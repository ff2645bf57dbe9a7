// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/roletest/roletest/internal/container"
)

// execReply scripts the outcome of an exec whose command line contains match.
type execReply struct {
	match    string
	stdout   string
	exitCode int
	err      error
}

// fakeEngine is an in-memory container.Engine that records every call.
type fakeEngine struct {
	mu sync.Mutex

	state      container.State
	pullErrs   []error
	failImage  container.ImageTag
	startErr   error
	removeErr  error
	replies    []execReply
	calls      []string
	execs      [][]string
	startOpts  container.StartOptions
	removed    []container.ContainerID
	resumed    bool
	pullCount  int
	lastExecTT bool
}

var _ container.Engine = (*fakeEngine)(nil)

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) Name() string { return "fake" }
func (f *fakeEngine) Available() bool { return true }
func (f *fakeEngine) Version(context.Context) (string, error) {
	return "1.0", nil
}

func (f *fakeEngine) Pull(_ context.Context, image container.ImageTag, stdout, _ io.Writer) error {
	f.record("pull " + string(image))
	f.mu.Lock()
	f.pullCount++
	var err error
	if len(f.pullErrs) > 0 {
		err = f.pullErrs[0]
		f.pullErrs = f.pullErrs[1:]
	}
	failImage := f.failImage
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if failImage != "" && image == failImage {
		return errors.New("fake: manifest unknown")
	}
	_, _ = io.WriteString(stdout, "latest: Pulling from "+string(image)+"\n")
	return nil
}

func (f *fakeEngine) Start(_ context.Context, opts container.StartOptions) (container.ContainerID, error) {
	f.record("start " + string(opts.Name))
	f.startOpts = opts
	if f.startErr != nil {
		return "", f.startErr
	}
	f.state = container.State{Exists: true, Running: true}
	return "deadbeef", nil
}

func (f *fakeEngine) Inspect(_ context.Context, id container.ContainerID) (container.State, error) {
	f.record("inspect " + string(id))
	return f.state, nil
}

func (f *fakeEngine) Resume(_ context.Context, id container.ContainerID) error {
	f.record("resume " + string(id))
	f.resumed = true
	f.state.Running = true
	return nil
}

func (f *fakeEngine) Exec(_ context.Context, id container.ContainerID, opts container.ExecOptions) (*container.ExecResult, error) {
	cmdline := strings.Join(opts.Command, " ")
	f.record("exec " + cmdline)
	f.execs = append(f.execs, slices.Clone(opts.Command))
	f.lastExecTT = opts.TTY
	for _, r := range f.replies {
		if !strings.Contains(cmdline, r.match) {
			continue
		}
		if r.err != nil {
			return nil, r.err
		}
		if opts.Stdout != nil {
			_, _ = io.WriteString(opts.Stdout, r.stdout)
		}
		return &container.ExecResult{ContainerID: id, ExitCode: r.exitCode}, nil
	}
	return &container.ExecResult{ContainerID: id}, nil
}

func (f *fakeEngine) Remove(_ context.Context, id container.ContainerID, force bool) error {
	if !force {
		return errors.New("fake: remove without force")
	}
	f.record("rm " + string(id))
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, id)
	f.state = container.State{}
	return nil
}

func (f *fakeEngine) ImageExists(context.Context, container.ImageTag) (bool, error) {
	return true, nil
}

// callNames returns the first word of every recorded call.
func (f *fakeEngine) callNames() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i], _, _ = strings.Cut(c, " ")
	}
	return out
}
