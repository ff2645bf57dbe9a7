// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"context"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roletest/roletest/internal/container"
	"github.com/roletest/roletest/internal/distro"
)

// DefaultPrefetchParallelism bounds concurrent pulls in Prefetch.
const DefaultPrefetchParallelism = 2

type (
	// PrefetchOptions configures Prefetch.
	PrefetchOptions struct {
		ImageNamespace string
		ImageTag       string
		// Parallel is the number of concurrent pulls; values below 1 mean DefaultPrefetchParallelism.
		Parallel int
		// Attempts per image; values below 1 mean one attempt.
		Attempts int
		Backoff  time.Duration
		// Output receives engine pull output. Nil discards it.
		Output io.Writer
		// Progress, if set, is called when each pull starts and finishes. Calls may be concurrent.
		Progress ProgressFunc
	}

	// PullResult is the outcome of pulling one distro's image.
	PullResult struct {
		Distro string
		Image  container.ImageTag
		Err    error
	}
)

// Prefetch pulls the test images of the named distros, a few at a time, so later
// runs start without waiting on the registry. Unknown distros fail before any pull.
// Every image is attempted; the returned slice is in the order of names and the
// error is the first pull failure.
func Prefetch(ctx context.Context, engine container.Engine, registry *distro.Registry, names []string, opts PrefetchOptions) ([]PullResult, error) {
	if registry == nil {
		registry = distro.Default()
	}
	results := make([]PullResult, len(names))
	for i, name := range names {
		d, err := registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		results[i] = PullResult{Distro: d.Name, Image: d.Image(opts.ImageNamespace, opts.ImageTag)}
	}

	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	parallel := opts.Parallel
	if parallel < 1 {
		parallel = DefaultPrefetchParallelism
	}

	var g errgroup.Group
	g.SetLimit(parallel)
	for i := range results {
		g.Go(func() error {
			res := &results[i]
			if opts.Progress != nil {
				opts.Progress(ProgressEvent{Kind: PullStarted, Image: res.Image})
			}
			res.Err = container.PullWithRetry(ctx, engine, res.Image, max(opts.Attempts, 1), opts.Backoff, out, out)
			if opts.Progress != nil {
				opts.Progress(ProgressEvent{Kind: PullFinished, Image: res.Image, Err: res.Err})
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.Err != nil {
			return results, res.Err
		}
	}
	return results, nil
}
