// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roletest/roletest/internal/config"
	"github.com/roletest/roletest/internal/container"
	"github.com/roletest/roletest/internal/issue"
)

var errNoContainerName = errors.New("no container name given and container_id is not set")

func newDownCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "down [container]",
		Short: "Force-remove a test container kept after a run",
		Long: `Force-remove a test container kept after a run.

Without an argument the container_id set by flag, environment or config file
is used. The name is printed by the run that kept the container.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := app.loadConfig(ctx, cmd)
			if err != nil {
				return err
			}
			name, err := keptContainerName(cfg, args, cmd.Name(), "remove container")
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
				fmt.Fprintf(app.stdout, "%s no container named %s\n", SubtitleStyle.Render("-"), CmdStyle.Render(string(name)))
				return nil
			}
			if err := engine.Remove(ctx, name, true); err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s removed %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(string(name)))
			return nil
		},
	}
}

// keptContainerName picks the container named on the command line, else an explicitly
// configured container_id. A clock-generated name never matches a kept container.
func keptContainerName(cfg *config.Config, args []string, command, operation string) (container.ContainerID, error) {
	var name container.ContainerID
	switch {
	case len(args) == 1:
		name = container.ContainerID(args[0])
	case !cfg.ContainerIDGenerated():
		name = container.ContainerID(cfg.ContainerID)
	default:
		return "", issue.NewErrorContext().
			WithOperation(operation).
			WithSuggestions(
				"Pass the container name printed by the run that kept it (e.g. roletest "+command+" 1600000000)",
				"Or set --container-id / ROLETEST_CONTAINER_ID to that name",
			).
			Wrap(errNoContainerName).
			BuildError()
	}
	if err := name.Validate(); err != nil {
		return "", err
	}
	return name, nil
}
