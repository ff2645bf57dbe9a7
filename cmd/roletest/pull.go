// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roletest/roletest/internal/distro"
	"github.com/roletest/roletest/internal/harness"
)

func newPullCommand(app *App) *cobra.Command {
	pullCmd := &cobra.Command{
		Use:   "pull [distro...]",
		Short: "Pre-pull distro test images",
		Long: `Pull the test images of the given distros (default: the configured distro)
so later runs do not wait on the registry.`,
		ValidArgsFunction: completeDistros,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := app.loadConfig(ctx, cmd)
			if err != nil {
				return err
			}
			registry, err := distro.NewRegistry(cfg.DistroOverrides())
			if err != nil {
				return err
			}

			names := args
			if all, _ := cmd.Flags().GetBool("all"); all {
				names = registry.Names()
			} else if len(names) == 0 {
				names = []string{cfg.Distro}
			}
			parallel, _ := cmd.Flags().GetInt("parallel")

			engine, err := app.engine(cfg)
			if err != nil {
				return err
			}
			logger := newLogger(app.stderr, cfg)

			var out io.Writer = io.Discard
			if cfg.UI.Verbose {
				out = app.stderr
			}

			results, pullErr := harness.Prefetch(ctx, engine, registry, names, harness.PrefetchOptions{
				ImageNamespace: cfg.Image.Namespace,
				ImageTag:       cfg.Image.Tag,
				Parallel:       parallel,
				Attempts:       cfg.PullRetries,
				Backoff:        harness.DefaultPullBackoff,
				Output:         out,
				Progress: func(ev harness.ProgressEvent) {
					if ev.Kind == harness.PullStarted {
						logger.Info("Pulling image", "image", ev.Image)
					}
				},
			})
			for _, res := range results {
				if res.Err != nil {
					fmt.Fprintf(app.stdout, "%s %s %s: %v\n", ErrorStyle.Render("✗"), res.Distro, SubtitleStyle.Render(string(res.Image)), res.Err)
					continue
				}
				fmt.Fprintf(app.stdout, "%s %s %s\n", SuccessStyle.Render("✓"), res.Distro, SubtitleStyle.Render(string(res.Image)))
			}
			return pullErr
		},
	}
	pullCmd.Flags().Bool("all", false, "pull the images of every known distro")
	pullCmd.Flags().Int("parallel", harness.DefaultPrefetchParallelism, "number of concurrent pulls")
	return pullCmd
}
