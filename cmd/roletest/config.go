// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roletest/roletest/internal/config"
)

// newConfigCommand creates the `roletest config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage roletest configuration",
		Long: `Manage roletest configuration.

Configuration is read from (first match wins):
  - the --config flag
  - Linux: ~/.config/roletest/config.cue
  - macOS: ~/Library/Application Support/roletest/config.cue
  - Windows: %APPDATA%\roletest\config.cue
  - ./roletest.cue

Environment variables and flags override file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd, app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CreateDefaultConfig("")
			if err != nil {
				return fmt.Errorf("failed to create config: %w", err)
			}
			fmt.Fprintf(app.stdout, "%s Configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "Config directory: %s\n", cfgDir)
			fmt.Fprintf(app.stdout, "Config file: %s\n", filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
			fmt.Fprintf(app.stdout, "Local config file: %s\n", config.LocalConfigFile)
			return nil
		},
	})

	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE, JSON, YAML or TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("format")
			return dumpConfig(app.stdout, cfg, format)
		},
	}
	dumpCmd.Flags().String("format", "cue", "output format (cue, json, yaml, toml)")
	cfgCmd.AddCommand(dumpCmd)

	return cfgCmd
}

func showConfig(cmd *cobra.Command, app *App) error {
	cfg, err := app.loadConfig(cmd.Context(), cmd)
	if err != nil {
		renderIssue(app.stderr, err, config.ColorSchemeAuto)
		return err
	}

	w := app.stdout
	keyStyle := CmdStyle
	valueStyle := SuccessStyle

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)

	if src := app.Config.Source(); src != "" {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), src)
	} else {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	rows := [][2]string{
		{"distro", cfg.Distro},
		{"playbook", cfg.Playbook},
		{"role_dir", cfg.RoleDir},
		{"cleanup", strconv.FormatBool(cfg.Cleanup)},
		{"container_id", cfg.ContainerID},
		{"test_idempotence", strconv.FormatBool(cfg.TestIdempotence)},
		{"reuse_container", strconv.FormatBool(cfg.ReuseContainer)},
		{"container_engine", string(cfg.ContainerEngine)},
		{"mount_path", cfg.MountPath},
		{"pull_retries", strconv.Itoa(cfg.PullRetries)},
		{"ansible_args", cfg.AnsibleArgs},
		{"cleanup_on_failure", strconv.FormatBool(cfg.CleanupOnFailure)},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render(r[0]), valueStyle.Render(r[1]))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("image"))
	fmt.Fprintf(w, "  namespace: %s\n", valueStyle.Render(cfg.Image.Namespace))
	fmt.Fprintf(w, "  tag: %s\n", valueStyle.Render(cfg.Image.Tag))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("ui"))
	fmt.Fprintf(w, "  color_scheme: %s\n", valueStyle.Render(string(cfg.UI.ColorScheme)))
	fmt.Fprintf(w, "  verbose: %s\n", valueStyle.Render(strconv.FormatBool(cfg.UI.Verbose)))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("distros"))
	if len(cfg.Distros) == 0 {
		fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render("(none configured)"))
	}
	for _, name := range slices.Sorted(maps.Keys(cfg.Distros)) {
		d := cfg.Distros[name]
		fmt.Fprintf(w, "  - %s (init: %s, privileged: %v, cgroup_mount: %v)\n",
			valueStyle.Render(name), d.Init, d.Privileged, d.CgroupMount)
	}

	return nil
}

func dumpConfig(w io.Writer, cfg *config.Config, format string) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "cue":
		_, err = io.WriteString(w, config.GenerateCUE(cfg))
		return err
	case "json":
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	case "yaml":
		data, err = yaml.Marshal(cfg)
	case "toml":
		data, err = toml.Marshal(cfg)
	default:
		return fmt.Errorf("unknown format %q (valid: cue, json, yaml, toml)", format)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = w.Write(data)
	return err
}
