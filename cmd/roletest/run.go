// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/charmbracelet/log"
	"github.com/moby/term"
	"github.com/spf13/cobra"

	"github.com/roletest/roletest/internal/config"
	"github.com/roletest/roletest/internal/distro"
	"github.com/roletest/roletest/internal/harness"
	"github.com/roletest/roletest/internal/issue"
)

func newRunCommand(app *App) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the role test (same as running roletest without a subcommand)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoleTest(cmd, app)
		},
	}
	runCmd.Flags().String("report", "", "write a run report (.json, .yaml or .toml)")
	return runCmd
}

func runRoleTest(cmd *cobra.Command, app *App) error {
	ctx := cmd.Context()

	cfg, err := app.loadConfig(ctx, cmd)
	if err != nil {
		renderIssue(app.stderr, err, config.ColorSchemeAuto)
		return err
	}

	reportPath := ""
	if f := cmd.Flags().Lookup("report"); f != nil {
		reportPath = f.Value.String()
		if reportPath != "" {
			if _, err := harness.FormatFromPath(reportPath); err != nil {
				return err
			}
		}
	}

	logger := newLogger(app.stderr, cfg)

	engine, err := app.engine(cfg)
	if err != nil {
		renderIssue(app.stderr, err, cfg.UI.ColorScheme)
		return err
	}
	logger.Debug("Using container engine", "engine", engine.Name())

	registry, err := distro.NewRegistry(cfg.DistroOverrides())
	if err != nil {
		return err
	}

	opts, err := harness.FromConfig(cfg)
	if err != nil {
		return err
	}

	stdoutTTY := isTerminal(app.stdout)
	opts.TTY = stdoutTTY

	runOpts := []harness.Option{
		harness.WithLogger(logger),
		harness.WithOutput(app.stdout, app.stderr),
		harness.WithClock(app.now),
	}
	switch {
	case cfg.UI.Verbose:
		runOpts = append(runOpts, harness.WithPullOutput(app.stderr))
	case isTerminal(app.stderr):
		runOpts = append(runOpts,
			harness.WithPullOutput(io.Discard),
			harness.WithProgress(pullSpinner(app.stderr)))
	}

	report, runErr := harness.New(engine, registry, opts, runOpts...).Run(ctx)

	if reportPath != "" {
		if err := report.WriteFile(reportPath); err != nil {
			logger.Error("Failed to write report", "path", reportPath, "err", err)
		} else {
			logger.Info("Wrote report", "path", reportPath)
		}
	}

	printSummary(app.stdout, report, runErr)
	if runErr != nil {
		renderIssue(app.stderr, runErr, cfg.UI.ColorScheme)
		return &ExitError{Code: harness.ExitCodeOf(runErr), Err: runErr}
	}
	return nil
}

func newLogger(w io.Writer, cfg *config.Config) *log.Logger {
	level := log.InfoLevel
	if cfg.UI.Verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		Prefix: "roletest",
		Level:  level,
	})
}

// pullSpinner shows a spinner on w while an image is being pulled.
func pullSpinner(w io.Writer) harness.ProgressFunc {
	var s *spinner.Spinner
	return func(ev harness.ProgressEvent) {
		switch ev.Kind {
		case harness.PullStarted:
			s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
			s.Suffix = " Pulling " + string(ev.Image)
			s.Start()
		case harness.PullFinished:
			if s == nil {
				return
			}
			if ev.Err != nil {
				s.FinalMSG = ErrorStyle.Render("✗") + " Failed to pull " + string(ev.Image) + "\n"
			} else {
				s.FinalMSG = SuccessStyle.Render("✓") + " Pulled " + string(ev.Image) + "\n"
			}
			s.Stop()
			s = nil
		}
	}
}

func printSummary(w io.Writer, report *harness.Report, runErr error) {
	if runErr == nil {
		fmt.Fprintf(w, "%s %s on %s in %s\n",
			SuccessStyle.Render("✓"),
			"Role test passed",
			CmdStyle.Render(report.Distro),
			report.Duration.Round(time.Second))
		return
	}

	var stepErr *harness.StepError
	step := "run"
	if errors.As(runErr, &stepErr) {
		step = stepErr.Step.String()
	}
	fmt.Fprintf(w, "%s %s at step %s (exit code %d)\n",
		ErrorStyle.Render("✗"),
		"Role test failed",
		CmdStyle.Render(step),
		harness.ExitCodeOf(runErr))
	if !report.CleanedUp && report.Container != "" && stepErr != nil && stepErr.Step != harness.StepDistro && stepErr.Step != harness.StepContainer {
		fmt.Fprintf(w, "%s container %s was kept: %s\n",
			WarningStyle.Render("!"),
			CmdStyle.Render(report.Container),
			SubtitleStyle.Render("roletest down "+report.Container))
	}
}

// renderIssue prints the actionable error and the catalog guidance linked to err, if any.
func renderIssue(w io.Writer, err error, scheme config.ColorScheme) {
	var ae *issue.ActionableError
	if errors.As(err, &ae) && ae.HasSuggestions() {
		fmt.Fprintln(w, WarningStyle.Render(ae.Format(false)))
	}
	entry := issue.IssueOf(err)
	if entry == nil {
		return
	}
	rendered, renderErr := entry.Render(glamourStyle(scheme))
	if renderErr != nil {
		return
	}
	fmt.Fprint(w, rendered)
}

// isTerminal reports whether w is a terminal.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	_, isTerm := term.GetFdInfo(f)
	return isTerm
}
