// SPDX-License-Identifier: MPL-2.0

//go:build windows

package cmd

import (
	"context"
	"io"
	"os"

	"github.com/roletest/roletest/internal/container"
)

// execWithPTY attaches the user's console directly; Windows consoles have no pty to forward.
func execWithPTY(ctx context.Context, engine container.Engine, name container.ContainerID, opts container.ExecOptions, in *os.File, out io.Writer) (*container.ExecResult, error) {
	restore := makeRaw(in)
	defer restore()

	opts.TTY = true
	opts.Stdin, opts.Stdout, opts.Stderr = in, out, out
	return engine.Exec(ctx, name, opts)
}
