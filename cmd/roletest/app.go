// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/roletest/roletest/internal/config"
	"github.com/roletest/roletest/internal/container"
	"github.com/roletest/roletest/internal/issue"

	"github.com/spf13/cobra"
)

type (
	// EngineFactory creates the container engine for a configured engine name.
	EngineFactory func(preferred config.ContainerEngine) (container.Engine, error)

	// App wires CLI services and shared dependencies. Every command handler receives an App
	// and reaches configuration, the container engine and output streams through it.
	App struct {
		Config    config.Provider
		NewEngine EngineFactory
		stdout    io.Writer
		stderr    io.Writer
		stdin     io.Reader
		now       func() time.Time
	}

	// Dependencies defines the injection points for building an App. Nil fields are
	// replaced with production defaults by NewApp.
	Dependencies struct {
		Config    config.Provider
		NewEngine EngineFactory
		Stdout    io.Writer
		Stderr    io.Writer
		Stdin     io.Reader
		Now       func() time.Time
	}
)

// NewApp creates an App, filling unset dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	app := &App{
		Config:    deps.Config,
		NewEngine: deps.NewEngine,
		stdout:    deps.Stdout,
		stderr:    deps.Stderr,
		stdin:     deps.Stdin,
		now:       deps.Now,
	}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.NewEngine == nil {
		app.NewEngine = defaultEngineFactory
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	if app.stdin == nil {
		app.stdin = os.Stdin
	}
	if app.now == nil {
		app.now = time.Now
	}
	return app
}

// loadConfig loads configuration with the command's flags bound on top of env and file values.
func (a *App) loadConfig(ctx context.Context, cmd *cobra.Command) (*config.Config, error) {
	return a.Config.Load(ctx, config.LoadOptions{
		ConfigFilePath: configFlag(cmd),
		Flags:          cmd.Flags(),
		Now:            a.now,
	})
}

// engine creates the configured container engine, falling back to the other engine.
func (a *App) engine(cfg *config.Config) (container.Engine, error) {
	engine, err := a.NewEngine(cfg.ContainerEngine)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("find container engine").
			WithResource(string(cfg.ContainerEngine)).
			WithIssue(issue.ContainerEngineNotFoundId).
			WithSuggestion("Install Docker or Podman and make sure it is running").
			Wrap(err).
			BuildError()
	}
	return engine, nil
}

func defaultEngineFactory(preferred config.ContainerEngine) (container.Engine, error) {
	return container.NewEngine(container.EngineType(preferred))
}

func configFlag(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("config"); f != nil {
		return f.Value.String()
	}
	return ""
}
