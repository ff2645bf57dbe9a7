// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roletest/roletest/internal/config"
	"github.com/roletest/roletest/internal/distro"
	"github.com/roletest/roletest/internal/harness"
	"github.com/roletest/roletest/internal/watch"
)

func newWatchCommand(app *App) *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the role test whenever role files change",
		Long: `Run the role test, then run it again in the same container every time a
file of the role changes. Press Ctrl+C to stop; the container is removed on
exit unless --cleanup=false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, app)
		},
	}
	watchCmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet period before re-running")
	watchCmd.Flags().StringSlice("pattern", nil, "glob of files that trigger a run (default: role YAML, templates, files)")
	watchCmd.Flags().StringSlice("ignore", nil, "glob of files that never trigger a run")
	return watchCmd
}

func runWatch(cmd *cobra.Command, app *App) error {
	ctx := cmd.Context()

	cfg, err := app.loadConfig(ctx, cmd)
	if err != nil {
		renderIssue(app.stderr, err, config.ColorSchemeAuto)
		return err
	}
	logger := newLogger(app.stderr, cfg)

	engine, err := app.engine(cfg)
	if err != nil {
		renderIssue(app.stderr, err, cfg.UI.ColorScheme)
		return err
	}
	registry, err := distro.NewRegistry(cfg.DistroOverrides())
	if err != nil {
		return err
	}
	opts, err := harness.FromConfig(cfg)
	if err != nil {
		return err
	}
	opts.TTY = isTerminal(app.stdout)
	opts.ReuseContainer = true
	opts.Cleanup = false
	opts.CleanupOnFail = false

	runOnce := func(ctx context.Context) {
		report, runErr := harness.New(engine, registry, opts,
			harness.WithLogger(logger),
			harness.WithOutput(app.stdout, app.stderr),
			harness.WithClock(app.now),
		).Run(ctx)
		printSummary(app.stdout, report, runErr)
		if runErr != nil {
			renderIssue(app.stderr, runErr, cfg.UI.ColorScheme)
		}
	}

	debounce, _ := cmd.Flags().GetDuration("debounce")
	patterns, _ := cmd.Flags().GetStringSlice("pattern")
	ignores, _ := cmd.Flags().GetStringSlice("ignore")

	w, err := watch.New(watch.Config{
		BaseDir:     cfg.RoleDir,
		Patterns:    patterns,
		Ignore:      ignores,
		Debounce:    debounce,
		ClearScreen: isTerminal(app.stdout),
		Stdout:      app.stdout,
		Stderr:      app.stderr,
		OnChange: func(ctx context.Context, changed []string) error {
			logger.Info("Role changed", "files", strings.Join(changed, ", "))
			runOnce(ctx)
			return nil
		},
	})
	if err != nil {
		return err
	}

	runOnce(ctx)
	fmt.Fprintf(app.stdout, "%s watching %s\n", SubtitleStyle.Render("~"), CmdStyle.Render(cfg.RoleDir))

	// Run returns only after an in-progress re-run has finished with the container.
	runErr := w.Run(ctx)

	if cfg.Cleanup {
		rmCtx := context.WithoutCancel(ctx)
		if state, err := engine.Inspect(rmCtx, opts.ContainerID); err == nil && state.Exists {
			logger.Info("Removing container", "container", opts.ContainerID)
			if err := engine.Remove(rmCtx, opts.ContainerID, true); err != nil {
				logger.Warn("Failed to remove container", "container", opts.ContainerID, "err", err)
			}
		}
	}
	return runErr
}
