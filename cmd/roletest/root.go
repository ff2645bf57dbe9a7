// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roletest/roletest/internal/config"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// newRootCommand builds the full command tree around app.
func newRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "roletest",
		Short: "Test an Ansible role inside a throwaway distro container",
		Long: TitleStyle.Render("roletest") + SubtitleStyle.Render(" - Ansible role tests in throwaway containers") + `

roletest starts a container from a prebuilt distro test image, mounts the role
into it, syntax-checks and applies tests/<playbook>, re-runs it to check
idempotence and removes the container.

Every setting can be given as a flag, as ROLETEST_<KEY> or as the bare
lower-case variable (distro, playbook, cleanup, container_id,
test_idempotence, reuse_container).

` + SubtitleStyle.Render("Examples:") + `
  roletest                              Test the role in the current directory on centos7
  distro=ubuntu2004 roletest            Test on Ubuntu 20.04
  roletest --distro debian10 --cleanup=false
  roletest distros                      List supported distros
  roletest pull --all                   Pre-pull every distro image
  roletest shell 1600000000             Open a shell in a kept container`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoleTest(cmd, app)
		},
	}

	addConfigFlags(rootCmd.PersistentFlags())
	rootCmd.Flags().String("report", "", "write a run report (.json, .yaml or .toml)")

	rootCmd.AddCommand(newRunCommand(app))
	rootCmd.AddCommand(newDistrosCommand(app))
	rootCmd.AddCommand(newPullCommand(app))
	rootCmd.AddCommand(newShellCommand(app))
	rootCmd.AddCommand(newDownCommand(app))
	rootCmd.AddCommand(newWatchCommand(app))
	rootCmd.AddCommand(newConfigCommand(app))
	rootCmd.AddCommand(newCompletionCommand(app))

	registerCompletions(rootCmd)

	return rootCmd
}

// addConfigFlags registers one flag per config key. Only flags the user sets take effect,
// so environment variables and the config file still apply underneath.
func addConfigFlags(fs *pflag.FlagSet) {
	d := config.DefaultConfig()

	fs.String("config", "", "config file (default is $XDG_CONFIG_HOME/roletest/config.cue or ./roletest.cue)")
	fs.String(config.FlagName("distro"), d.Distro, "distro to test on")
	fs.String(config.FlagName("playbook"), d.Playbook, "playbook inside tests/ to apply")
	fs.String(config.FlagName("role_dir"), "", "role directory to mount (default is the working directory)")
	fs.Bool(config.FlagName("cleanup"), d.Cleanup, "remove the container after the run")
	fs.String(config.FlagName("container_id"), "", "container name (default is the current Unix timestamp)")
	fs.Bool(config.FlagName("test_idempotence"), d.TestIdempotence, "re-run the playbook and require changed=0 failed=0")
	fs.Bool(config.FlagName("reuse_container"), d.ReuseContainer, "reuse an existing container with the same name")
	fs.String(config.FlagName("container_engine"), string(d.ContainerEngine), "container engine (docker or podman)")
	fs.String(config.FlagName("mount_path"), d.MountPath, "role mount path inside the container")
	fs.Int(config.FlagName("pull_retries"), d.PullRetries, "image pull attempts")
	fs.String(config.FlagName("ansible_args"), d.AnsibleArgs, "extra shell-quoted ansible-playbook arguments")
	fs.Bool(config.FlagName("cleanup_on_failure"), d.CleanupOnFailure, "remove the container when a step fails, regardless of --cleanup")
	fs.String(config.FlagName("image.namespace"), d.Image.Namespace, "image namespace")
	fs.String(config.FlagName("image.tag"), d.Image.Tag, "image tag")
	fs.BoolP(config.FlagName("ui.verbose"), "v", d.UI.Verbose, "enable verbose output")
	fs.String(config.FlagName("ui.color_scheme"), string(d.UI.ColorScheme), "color scheme (auto, dark, light)")
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits with the failing step's exit code.
// This is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		newRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
