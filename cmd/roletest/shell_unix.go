// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/creack/pty"

	"github.com/roletest/roletest/internal/container"
)

// execWithPTY runs the exec on a fresh pseudo-terminal that mirrors the user's terminal,
// forwarding input, output and window size changes.
func execWithPTY(ctx context.Context, engine container.Engine, name container.ContainerID, opts container.ExecOptions, in *os.File, out io.Writer) (*container.ExecResult, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, err
	}
	defer ptmx.Close()

	_ = pty.InheritSize(in, ptmx)
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	go func() {
		for range winch {
			_ = pty.InheritSize(in, ptmx)
		}
	}()

	restore := makeRaw(in)
	defer restore()

	// The input copier may stay blocked reading in after the exec ends. Closing ptmx below
	// makes its next write fail, so it exits on the following keystroke, which is dropped.
	forwardInput(ptmx, in)
	done := make(chan struct{})
	go func() {
		copyOut(out, ptmx)
		close(done)
	}()

	opts.TTY = true
	opts.Stdin, opts.Stdout, opts.Stderr = tty, tty, tty
	res, err := engine.Exec(ctx, name, opts)
	_ = tty.Close()
	<-done
	_ = ptmx.Close()
	signal.Stop(winch)
	close(winch)
	return res, err
}
