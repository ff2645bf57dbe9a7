// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/roletest/roletest/internal/distro"
)

const (
	// ContainerEnginePodman uses Podman as the container runtime.
	ContainerEnginePodman ContainerEngine = "podman"
	// ContainerEngineDocker uses Docker as the container runtime.
	ContainerEngineDocker ContainerEngine = "docker"

	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"
)

var (
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ContainerEngine specifies which container runtime to use.
	ContainerEngine string

	// InvalidContainerEngineError is returned when a ContainerEngine value is not recognized.
	// It wraps ErrInvalidContainerEngine for errors.Is() compatibility.
	InvalidContainerEngineError struct {
		Value ContainerEngine
	}

	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the settings of one role test run.
	Config struct {
		// Distro selects the distro table entry (and so the test image).
		Distro string `json:"distro" yaml:"distro" toml:"distro" mapstructure:"distro"`
		// Playbook is the playbook file name under the role's tests/ directory.
		Playbook string `json:"playbook" yaml:"playbook" toml:"playbook" mapstructure:"playbook"`
		// RoleDir is the host directory bind-mounted as the role under test.
		RoleDir string `json:"role_dir" yaml:"role_dir" toml:"role_dir" mapstructure:"role_dir"`
		// Cleanup removes the container after a successful run.
		Cleanup bool `json:"cleanup" yaml:"cleanup" toml:"cleanup" mapstructure:"cleanup"`
		// ContainerID is the container name. It defaults to the Unix time of the run.
		ContainerID string `json:"container_id" yaml:"container_id" toml:"container_id" mapstructure:"container_id"`
		// TestIdempotence re-runs the playbook and requires changed=0 failed=0.
		TestIdempotence bool `json:"test_idempotence" yaml:"test_idempotence" toml:"test_idempotence" mapstructure:"test_idempotence"`
		// ReuseContainer skips creation when a container named ContainerID exists.
		ReuseContainer bool `json:"reuse_container" yaml:"reuse_container" toml:"reuse_container" mapstructure:"reuse_container"`
		// ContainerEngine is the preferred engine; the other one is used as a fallback.
		ContainerEngine ContainerEngine `json:"container_engine" yaml:"container_engine" toml:"container_engine" mapstructure:"container_engine"`
		// MountPath is where the role is mounted inside the container.
		MountPath string `json:"mount_path" yaml:"mount_path" toml:"mount_path" mapstructure:"mount_path"`
		// PullRetries is the number of image pull attempts.
		PullRetries int `json:"pull_retries" yaml:"pull_retries" toml:"pull_retries" mapstructure:"pull_retries"`
		// AnsibleArgs are extra shell-quoted ansible-playbook arguments.
		AnsibleArgs string `json:"ansible_args" yaml:"ansible_args" toml:"ansible_args" mapstructure:"ansible_args"`
		// CleanupOnFailure removes the container when a step fails. It does not depend on Cleanup.
		CleanupOnFailure bool `json:"cleanup_on_failure" yaml:"cleanup_on_failure" toml:"cleanup_on_failure" mapstructure:"cleanup_on_failure"`
		// Image selects where test images come from.
		Image ImageConfig `json:"image" yaml:"image" toml:"image" mapstructure:"image"`
		// UI configures terminal output.
		UI UIConfig `json:"ui" yaml:"ui" toml:"ui" mapstructure:"ui"`
		// Distros adds to or replaces entries of the builtin distro table.
		Distros map[string]DistroConfig `json:"distros,omitempty" yaml:"distros,omitempty" toml:"distros,omitempty" mapstructure:"distros"`

		containerIDGenerated bool
	}

	// ImageConfig names the registry namespace and tag of the test images.
	ImageConfig struct {
		Namespace string `json:"namespace" yaml:"namespace" toml:"namespace" mapstructure:"namespace"`
		Tag       string `json:"tag" yaml:"tag" toml:"tag" mapstructure:"tag"`
	}

	// UIConfig contains UI-related configuration.
	UIConfig struct {
		// ColorScheme sets the color scheme ("auto", "dark", "light").
		ColorScheme ColorScheme `json:"color_scheme" yaml:"color_scheme" toml:"color_scheme" mapstructure:"color_scheme"`
		// Verbose enables debug logging and streams image pull output.
		Verbose bool `json:"verbose" yaml:"verbose" toml:"verbose" mapstructure:"verbose"`
	}

	// DistroConfig is a config-file distro table entry.
	DistroConfig struct {
		Init        string `json:"init" yaml:"init" toml:"init" mapstructure:"init"`
		Privileged  bool   `json:"privileged" yaml:"privileged" toml:"privileged" mapstructure:"privileged"`
		CgroupMount bool   `json:"cgroup_mount" yaml:"cgroup_mount" toml:"cgroup_mount" mapstructure:"cgroup_mount"`
	}
)

// MaxPullRetries bounds pull_retries; the config schema enforces the same limit.
const MaxPullRetries = 20

// DefaultConfig returns the built-in defaults. RoleDir and ContainerID are filled in at load time.
func DefaultConfig() *Config {
	return &Config{
		Distro:          "centos7",
		Playbook:        "test.yml",
		Cleanup:         true,
		TestIdempotence: true,
		ReuseContainer:  false,
		ContainerEngine: ContainerEngineDocker,
		MountPath:       "/etc/ansible/roles/role_under_test",
		PullRetries:     3,
		Image: ImageConfig{
			Namespace: "geerlingguy",
			Tag:       "latest",
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
		},
	}
}

// DistroOverrides converts the configured distro entries for distro.NewRegistry.
func (c *Config) DistroOverrides() map[string]distro.Definition {
	if len(c.Distros) == 0 {
		return nil
	}
	out := make(map[string]distro.Definition, len(c.Distros))
	for name, d := range c.Distros {
		out[name] = distro.Definition{Init: d.Init, Privileged: d.Privileged, CgroupMount: d.CgroupMount}
	}
	return out
}

// ContainerIDGenerated reports whether ContainerID came from the load-time clock
// rather than a flag, environment variable or config file.
func (c *Config) ContainerIDGenerated() bool { return c.containerIDGenerated }

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	out := *c
	out.Distros = maps.Clone(c.Distros)
	return &out
}

// Validate returns an error if any field of the Config is invalid.
// The role directory must exist on the host.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Distro) == "" {
		errs = append(errs, errors.New("distro must not be empty"))
	}
	if strings.TrimSpace(c.Playbook) == "" {
		errs = append(errs, errors.New("playbook must not be empty"))
	} else if !filepath.IsLocal(c.Playbook) {
		errs = append(errs, fmt.Errorf("playbook %q must be a relative path inside tests/", c.Playbook))
	}
	if c.ContainerID == "" || strings.ContainsAny(c.ContainerID, " \t\r\n") {
		errs = append(errs, fmt.Errorf("container_id %q must be non-empty and contain no whitespace", c.ContainerID))
	}
	if err := c.ContainerEngine.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.UI.ColorScheme.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.PullRetries < 1 || c.PullRetries > MaxPullRetries {
		errs = append(errs, fmt.Errorf("pull_retries must be between 1 and %d, got %d", MaxPullRetries, c.PullRetries))
	}
	if !path.IsAbs(c.MountPath) {
		errs = append(errs, fmt.Errorf("mount_path %q must be absolute", c.MountPath))
	}
	if strings.TrimSpace(c.Image.Tag) == "" {
		errs = append(errs, errors.New("image.tag must not be empty"))
	}

	switch info, err := os.Stat(c.RoleDir); {
	case c.RoleDir == "":
		errs = append(errs, errors.New("role_dir must not be empty"))
	case err != nil:
		errs = append(errs, fmt.Errorf("role_dir %q: %w", c.RoleDir, err))
	case !info.IsDir():
		errs = append(errs, fmt.Errorf("role_dir %q is not a directory", c.RoleDir))
	}

	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s): %v", len(e.FieldErrors), errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidConfig so callers can use errors.Is for programmatic detection.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Error implements the error interface.
func (e *InvalidContainerEngineError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: docker, podman)", e.Value)
}

// Unwrap returns ErrInvalidContainerEngine so callers can use errors.Is for programmatic detection.
func (e *InvalidContainerEngineError) Unwrap() error {
	return ErrInvalidContainerEngine
}

// String returns the string representation of the ContainerEngine.
func (ce ContainerEngine) String() string { return string(ce) }

// Validate returns an error if the ContainerEngine is not one of the defined engine types.
func (ce ContainerEngine) Validate() error {
	switch ce {
	case ContainerEnginePodman, ContainerEngineDocker:
		return nil
	default:
		return &InvalidContainerEngineError{Value: ce}
	}
}

// Error implements the error interface.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns ErrInvalidColorScheme so callers can use errors.Is for programmatic detection.
func (e *InvalidColorSchemeError) Unwrap() error {
	return ErrInvalidColorScheme
}

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// Validate returns an error if the ColorScheme is not one of the defined schemes.
func (cs ColorScheme) Validate() error {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return nil
	default:
		return &InvalidColorSchemeError{Value: cs}
	}
}
