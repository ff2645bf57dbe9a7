// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"io"
	"os"

	"github.com/moby/term"
	"github.com/spf13/cobra"

	"github.com/roletest/roletest/internal/container"
	"github.com/roletest/roletest/internal/issue"
)

const defaultShell = "bash"

var errContainerNotFound = errors.New("container does not exist")

func newShellCommand(app *App) *cobra.Command {
	shellCmd := &cobra.Command{
		Use:   "shell [container]",
		Short: "Open an interactive shell inside a test container",
		Long: `Open an interactive shell inside a test container.

Run with --cleanup=false (or keep a failed run's container) and then inspect the
converged system. Without an argument the container_id set by flag, environment
or config file is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := app.loadConfig(ctx, cmd)
			if err != nil {
				return err
			}
			name, err := keptContainerName(cfg, args, cmd.Name(), "open shell")
			if err != nil {
				return err
			}

			engine, err := app.engine(cfg)
			if err != nil {
				return err
			}

			state, err := engine.Inspect(ctx, name)
			if err != nil {
				return err
			}
			if !state.Exists {
				return issue.WrapWithContext(errContainerNotFound, "open shell", string(name))
			}
			if !state.Running {
				if err := engine.Resume(ctx, name); err != nil {
					return err
				}
			}

			sh, _ := cmd.Flags().GetString("shell")
			opts := container.ExecOptions{
				Command:     []string{sh},
				WorkDir:     cfg.MountPath,
				Interactive: true,
			}

			var res *container.ExecResult
			if in, ok := app.stdin.(*os.File); ok && isTerminal(in) && isTerminal(app.stdout) {
				res, err = execWithPTY(ctx, engine, name, opts, in, app.stdout)
			} else {
				opts.Stdin, opts.Stdout, opts.Stderr = app.stdin, app.stdout, app.stderr
				res, err = engine.Exec(ctx, name, opts)
			}
			if err != nil {
				return err
			}
			if res.ExitCode != 0 {
				return &ExitError{Code: res.ExitCode}
			}
			return nil
		},
	}
	shellCmd.Flags().String("shell", defaultShell, "shell to start in the container")
	return shellCmd
}

// makeRaw puts the terminal on in into raw mode and returns a restore function.
func makeRaw(in *os.File) func() {
	fd, _ := term.GetFdInfo(in)
	state, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}
	}
	return func() { _ = term.RestoreTerminal(fd, state) }
}

// forwardInput copies src to dst in the background until a read or write fails.
// The returned channel is closed when copying stops.
func forwardInput(dst io.Writer, src io.Reader) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(dst, src)
	}()
	return done
}

// copyOut copies src to dst until src is closed.
func copyOut(dst io.Writer, src io.Reader) {
	_, _ = io.Copy(dst, src)
}
