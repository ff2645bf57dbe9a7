// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/roletest/roletest/internal/config"
	"github.com/roletest/roletest/internal/distro"
)

// newCompletionCommand creates the `roletest completion` command.
func newCompletionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for roletest.

` + SubtitleStyle.Render("Bash:") + `
  eval "$(roletest completion bash)"

` + SubtitleStyle.Render("Zsh:") + `
  roletest completion zsh > "${fpath[1]}/_roletest"

` + SubtitleStyle.Render("Fish:") + `
  roletest completion fish > ~/.config/fish/completions/roletest.fish

` + SubtitleStyle.Render("PowerShell:") + `
  roletest completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(app.stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(app.stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(app.stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(app.stdout)
			}
			return nil
		},
	}
}

// completeDistros completes --distro with the builtin distro names.
func completeDistros(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return distro.Default().Names(), cobra.ShellCompDirectiveNoFileComp
}

// registerCompletions wires flag value completion on the root command.
func registerCompletions(root *cobra.Command) {
	_ = root.RegisterFlagCompletionFunc(config.FlagName("distro"), completeDistros)
	_ = root.RegisterFlagCompletionFunc(config.FlagName("container_engine"),
		cobra.FixedCompletions([]string{string(config.ContainerEngineDocker), string(config.ContainerEnginePodman)}, cobra.ShellCompDirectiveNoFileComp))
	_ = root.RegisterFlagCompletionFunc(config.FlagName("ui.color_scheme"),
		cobra.FixedCompletions([]string{string(config.ColorSchemeAuto), string(config.ColorSchemeDark), string(config.ColorSchemeLight)}, cobra.ShellCompDirectiveNoFileComp))
}
