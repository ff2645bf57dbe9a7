// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/roletest/roletest/internal/issue"
	"github.com/roletest/roletest/pkg/cueutil"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "roletest"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// LocalConfigFile is the project-local config file looked up in the working directory.
	LocalConfigFile = AppName + "." + ConfigFileExt
	// EnvPrefix prefixes the upper-case environment variable of every key.
	EnvPrefix = "ROLETEST"
)

//go:embed config_schema.cue
var configSchema string

// binding ties a config key to its legacy env name and command-line flag.
type binding struct {
	key       string
	legacyEnv string // bare lowercase name honoured for drop-in compatibility; empty if none
	flag      string
}

var bindings = []binding{
	{key: "distro", legacyEnv: "distro", flag: "distro"},
	{key: "playbook", legacyEnv: "playbook", flag: "playbook"},
	{key: "role_dir", legacyEnv: "role_dir", flag: "role-dir"},
	{key: "cleanup", legacyEnv: "cleanup", flag: "cleanup"},
	{key: "container_id", legacyEnv: "container_id", flag: "container-id"},
	{key: "test_idempotence", legacyEnv: "test_idempotence", flag: "test-idempotence"},
	{key: "reuse_container", legacyEnv: "reuse_container", flag: "reuse-container"},
	{key: "container_engine", flag: "engine"},
	{key: "mount_path", flag: "mount-path"},
	{key: "pull_retries", flag: "pull-retries"},
	{key: "ansible_args", flag: "ansible-args"},
	{key: "cleanup_on_failure", flag: "cleanup-on-failure"},
	{key: "image.namespace", flag: "image-namespace"},
	{key: "image.tag", flag: "image-tag"},
	{key: "ui.verbose", flag: "verbose"},
	{key: "ui.color_scheme", flag: "color-scheme"},
}

// EnvName returns the prefixed environment variable for a config key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// EnvNames returns every environment variable consulted for key, highest precedence first.
func EnvNames(key string) []string {
	for _, b := range bindings {
		if b.key == key {
			if b.legacyEnv != "" {
				return []string{EnvName(key), b.legacyEnv}
			}
			return []string{EnvName(key)}
		}
	}
	return nil
}

// FlagName returns the command-line flag bound to key, or "" if none.
func FlagName(key string) string {
	for _, b := range bindings {
		if b.key == key {
			return b.flag
		}
	}
	return ""
}

// Keys returns every bound config key.
func Keys() []string {
	keys := make([]string, 0, len(bindings))
	for _, b := range bindings {
		keys = append(keys, b.key)
	}
	return keys
}

// ConfigDir returns the roletest configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state. It returns the config and the path of the file it read ("" if none).
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, "", err
	}
	if err := bindEnvAndFlags(v, opts.Flags); err != nil {
		return nil, "", err
	}

	resolvedPath, err := resolveConfigFile(opts)
	if err != nil {
		return nil, "", err
	}
	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			ectx := issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithIssue(issue.ConfigLoadFailedId)
			var verr *cueutil.ValidationError
			if errors.As(err, &verr) && verr.FirstPath() != "" {
				ectx.WithSuggestion(fmt.Sprintf("Fix the value of %s", verr.FirstPath()))
			}
			return nil, "", ectx.
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("See 'roletest config --help' for configuration options").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("parse configuration").
			WithIssue(issue.ConfigLoadFailedId).
			WithSuggestion("Boolean settings accept true/false, 1/0 or t/f").
			WithSuggestion("Numeric settings such as pull_retries must be integers").
			Wrap(err).
			BuildError()
	}

	if cfg.ContainerID == "" {
		cfg.ContainerID = strconv.FormatInt(now().Unix(), 10)
		cfg.containerIDGenerated = true
	}

	if cfg.RoleDir != "" {
		abs, err := filepath.Abs(cfg.RoleDir)
		if err != nil {
			return nil, "", fmt.Errorf("resolve role_dir: %w", err)
		}
		cfg.RoleDir = abs
	}

	if err := cfg.Validate(); err != nil {
		ectx := issue.NewErrorContext().
			WithOperation("validate configuration").
			WithIssue(issue.ConfigLoadFailedId)
		if resolvedPath != "" {
			ectx.WithResource(resolvedPath)
		}
		var invalid *InvalidConfigError
		if errors.As(err, &invalid) && hasRoleDirError(invalid) {
			ectx.WithIssue(issue.RoleDirNotFoundId).
				WithSuggestion("Run roletest from the role's root directory or pass --role-dir")
		}
		return nil, "", ectx.
			WithSuggestion("Run 'roletest config show' to print the effective configuration").
			Wrap(err).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

func hasRoleDirError(e *InvalidConfigError) bool {
	for _, fe := range e.FieldErrors {
		if strings.HasPrefix(fe.Error(), "role_dir") {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	defaults := DefaultConfig()
	v.SetDefault("distro", defaults.Distro)
	v.SetDefault("playbook", defaults.Playbook)
	v.SetDefault("role_dir", wd)
	v.SetDefault("cleanup", defaults.Cleanup)
	v.SetDefault("test_idempotence", defaults.TestIdempotence)
	v.SetDefault("reuse_container", defaults.ReuseContainer)
	v.SetDefault("container_engine", string(defaults.ContainerEngine))
	v.SetDefault("mount_path", defaults.MountPath)
	v.SetDefault("pull_retries", defaults.PullRetries)
	v.SetDefault("ansible_args", defaults.AnsibleArgs)
	v.SetDefault("cleanup_on_failure", defaults.CleanupOnFailure)
	v.SetDefault("image.namespace", defaults.Image.Namespace)
	v.SetDefault("image.tag", defaults.Image.Tag)
	v.SetDefault("ui.color_scheme", string(defaults.UI.ColorScheme))
	v.SetDefault("ui.verbose", defaults.UI.Verbose)
	return nil
}

// bindEnvAndFlags binds every key to ROLETEST_<KEY>, its legacy lowercase name when it has one,
// and the matching flag if the flag set defines it. Viper consults env names in order, so the
// prefixed variable wins over the legacy one.
func bindEnvAndFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, b := range bindings {
		if err := v.BindEnv(append([]string{b.key}, EnvNames(b.key)...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", b.key, err)
		}
		if flags == nil || b.flag == "" {
			continue
		}
		if f := flags.Lookup(b.flag); f != nil {
			if err := v.BindPFlag(b.key, f); err != nil {
				return fmt.Errorf("bind flag --%s: %w", b.flag, err)
			}
		}
	}
	return nil
}

// resolveConfigFile returns the config file to load, or "" when none exists.
func resolveConfigFile(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithIssue(issue.ConfigLoadFailedId).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				WithSuggestion("Use 'roletest config init' to create a default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}

	for _, candidate := range []string{
		filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt),
		LocalConfigFile,
	} {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
//
// Config decodes to map[string]any (not a struct) so Viper can layer env and flags on top.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	configMap, err := decodeCUE(data, path)
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// decodeCUE validates data against #Config and decodes it into a generic map.
func decodeCUE(data []byte, path string) (map[string]any, error) {
	result, err := cueutil.ParseAndDecodeString[map[string]any](configSchema, data, "#Config",
		cueutil.WithFilename(path))
	if err != nil {
		return nil, err
	}
	return *result.Value, nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes a default config file into configDirPath (or ConfigDir() when
// empty) unless one already exists. It returns the file path.
func CreateDefaultConfig(configDirPath string) (string, error) {
	cfgDir, err := configDirWithOverride(configDirPath)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, nil
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return cfgPath, nil
}

// GenerateCUE generates a CUE representation of the configuration.
// Per-run values (role_dir, container_id) are left out.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// roletest configuration file\n")
	sb.WriteString("// Environment variables (ROLETEST_*, distro, playbook, ...) override these values.\n\n")

	fmt.Fprintf(&sb, "distro: %q\n", cfg.Distro)
	fmt.Fprintf(&sb, "playbook: %q\n", cfg.Playbook)
	fmt.Fprintf(&sb, "cleanup: %v\n", cfg.Cleanup)
	fmt.Fprintf(&sb, "test_idempotence: %v\n", cfg.TestIdempotence)
	fmt.Fprintf(&sb, "reuse_container: %v\n", cfg.ReuseContainer)
	fmt.Fprintf(&sb, "container_engine: %q\n", cfg.ContainerEngine)
	fmt.Fprintf(&sb, "mount_path: %q\n", cfg.MountPath)
	fmt.Fprintf(&sb, "pull_retries: %d\n", cfg.PullRetries)
	fmt.Fprintf(&sb, "ansible_args: %q\n", cfg.AnsibleArgs)
	fmt.Fprintf(&sb, "cleanup_on_failure: %v\n", cfg.CleanupOnFailure)

	sb.WriteString("\nimage: {\n")
	fmt.Fprintf(&sb, "\tnamespace: %q\n", cfg.Image.Namespace)
	fmt.Fprintf(&sb, "\ttag: %q\n", cfg.Image.Tag)
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	if len(cfg.Distros) > 0 {
		sb.WriteString("\ndistros: {\n")
		for _, name := range slices.Sorted(maps.Keys(cfg.Distros)) {
			d := cfg.Distros[name]
			fmt.Fprintf(&sb, "\t%q: {\n", name)
			fmt.Fprintf(&sb, "\t\tinit: %q\n", d.Init)
			fmt.Fprintf(&sb, "\t\tprivileged: %v\n", d.Privileged)
			fmt.Fprintf(&sb, "\t\tcgroup_mount: %v\n", d.CgroupMount)
			sb.WriteString("\t}\n")
		}
		sb.WriteString("}\n")
	}

	return sb.String()
}
