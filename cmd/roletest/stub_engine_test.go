// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"strings"

	"github.com/roletest/roletest/internal/container"
)

// stubEngine is a container.Engine whose execs print stdout and exit with
// exitCodes[match] when the command line contains match.
type stubEngine struct {
	state     container.State
	stdout    string
	exitCodes map[string]int
	calls     []string
	removed   []container.ContainerID
}

var _ container.Engine = (*stubEngine)(nil)

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Available() bool { return true }

func (s *stubEngine) Version(context.Context) (string, error) { return "1.0", nil }

func (s *stubEngine) Pull(_ context.Context, image container.ImageTag, _, _ io.Writer) error {
	s.calls = append(s.calls, "pull "+string(image))
	return nil
}

func (s *stubEngine) Start(_ context.Context, opts container.StartOptions) (container.ContainerID, error) {
	s.calls = append(s.calls, "start "+string(opts.Name))
	s.state = container.State{Exists: true, Running: true}
	return opts.Name, nil
}

func (s *stubEngine) Inspect(_ context.Context, id container.ContainerID) (container.State, error) {
	s.calls = append(s.calls, "inspect "+string(id))
	return s.state, nil
}

func (s *stubEngine) Resume(_ context.Context, id container.ContainerID) error {
	s.calls = append(s.calls, "resume "+string(id))
	s.state.Running = true
	return nil
}

func (s *stubEngine) Exec(_ context.Context, id container.ContainerID, opts container.ExecOptions) (*container.ExecResult, error) {
	cmdline := strings.Join(opts.Command, " ")
	s.calls = append(s.calls, "exec "+cmdline)
	if opts.Stdout != nil {
		_, _ = io.WriteString(opts.Stdout, s.stdout)
	}
	for match, code := range s.exitCodes {
		if strings.Contains(cmdline, match) {
			return &container.ExecResult{ContainerID: id, ExitCode: code}, nil
		}
	}
	return &container.ExecResult{ContainerID: id}, nil
}

func (s *stubEngine) Remove(_ context.Context, id container.ContainerID, _ bool) error {
	s.calls = append(s.calls, "rm "+string(id))
	s.removed = append(s.removed, id)
	s.state = container.State{}
	return nil
}

func (s *stubEngine) ImageExists(context.Context, container.ImageTag) (bool, error) {
	return true, nil
}
