// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/roletest/roletest/internal/issue"
	"github.com/roletest/roletest/internal/testutil"
)

var fixedNow = func() time.Time { return time.Unix(1600000000, 0) }

// isolate clears every roletest env var, moves into a fresh role dir and points the config
// dir at an empty directory. Tests using it must not run in parallel.
func isolate(t *testing.T) (roleDir, cfgDir string) {
	t.Helper()
	for _, key := range Keys() {
		for _, name := range EnvNames(key) {
			t.Cleanup(testutil.MustUnsetenv(t, name))
		}
	}
	roleDir = testutil.NewRoleDir(t, nil)
	t.Cleanup(testutil.MustChdir(t, roleDir))
	cfgDir = t.TempDir()
	return roleDir, cfgDir
}

func load(t *testing.T, opts LoadOptions) (*Config, error) {
	t.Helper()
	if opts.Now == nil {
		opts.Now = fixedNow
	}
	return NewProvider().Load(context.Background(), opts)
}

func TestLoad_Defaults(t *testing.T) {
	roleDir, cfgDir := isolate(t)

	cfg, err := load(t, LoadOptions{ConfigDirPath: cfgDir})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	wantRoleDir, _ := filepath.EvalSymlinks(roleDir)
	gotRoleDir, _ := filepath.EvalSymlinks(cfg.RoleDir)

	checks := []struct {
		name      string
		got, want any
	}{
		{"distro", cfg.Distro, "centos7"},
		{"playbook", cfg.Playbook, "test.yml"},
		{"role_dir", gotRoleDir, wantRoleDir},
		{"cleanup", cfg.Cleanup, true},
		{"container_id", cfg.ContainerID, "1600000000"},
		{"test_idempotence", cfg.TestIdempotence, true},
		{"reuse_container", cfg.ReuseContainer, false},
		{"container_engine", cfg.ContainerEngine, ContainerEngineDocker},
		{"mount_path", cfg.MountPath, "/etc/ansible/roles/role_under_test"},
		{"pull_retries", cfg.PullRetries, 3},
		{"image.namespace", cfg.Image.Namespace, "geerlingguy"},
		{"image.tag", cfg.Image.Tag, "latest"},
		{"ui.color_scheme", cfg.UI.ColorScheme, ColorSchemeAuto},
		{"cleanup_on_failure", cfg.CleanupOnFailure, false},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if !cfg.ContainerIDGenerated() {
		t.Error("ContainerIDGenerated() = false for the clock default")
	}
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	_, cfgDir := isolate(t)

	t.Setenv("distro", "ubuntu2004")
	t.Setenv("playbook", "docker.yml")
	t.Setenv("cleanup", "false")
	t.Setenv("container_id", "my-test")
	t.Setenv("test_idempotence", "0")
	t.Setenv("reuse_container", "true")

	cfg, err := load(t, LoadOptions{ConfigDirPath: cfgDir})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Distro != "ubuntu2004" || cfg.Playbook != "docker.yml" || cfg.ContainerID != "my-test" {
		t.Errorf("string env not applied: %+v", cfg)
	}
	if cfg.Cleanup || cfg.TestIdempotence || !cfg.ReuseContainer {
		t.Errorf("bool env not applied: cleanup=%v test_idempotence=%v reuse=%v",
			cfg.Cleanup, cfg.TestIdempotence, cfg.ReuseContainer)
	}
	if cfg.ContainerIDGenerated() {
		t.Error("ContainerIDGenerated() = true for a container_id from the environment")
	}
}

func TestLoad_PrefixedEnvWins(t *testing.T) {
	_, cfgDir := isolate(t)

	t.Setenv("distro", "debian9")
	t.Setenv("ROLETEST_DISTRO", "debian10")
	t.Setenv("ROLETEST_PULL_RETRIES", "7")
	t.Setenv("ROLETEST_IMAGE_TAG", "testing")

	cfg, err := load(t, LoadOptions{ConfigDirPath: cfgDir})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Distro != "debian10" {
		t.Errorf("Distro = %q, want debian10", cfg.Distro)
	}
	if cfg.PullRetries != 7 {
		t.Errorf("PullRetries = %d, want 7", cfg.PullRetries)
	}
	if cfg.Image.Tag != "testing" {
		t.Errorf("Image.Tag = %q, want testing", cfg.Image.Tag)
	}
}

func TestLoad_InvalidBoolean(t *testing.T) {
	_, cfgDir := isolate(t)
	t.Setenv("cleanup", "maybe")

	_, err := load(t, LoadOptions{ConfigDirPath: cfgDir})
	if err == nil {
		t.Fatal("expected error for non-boolean cleanup")
	}
	if got := issue.IssueOf(err); got == nil || got.Id() != issue.ConfigLoadFailedId {
		t.Errorf("expected config-load issue, got %v", got)
	}
}

func TestLoad_PullRetriesFromEnvAreBounded(t *testing.T) {
	_, cfgDir := isolate(t)
	t.Setenv("ROLETEST_PULL_RETRIES", "40")

	_, err := load(t, LoadOptions{ConfigDirPath: cfgDir})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Load() error = %v, want ErrInvalidConfig", err)
	}
	if !strings.Contains(err.Error(), "pull_retries must be between 1 and 20") {
		t.Errorf("error = %v", err)
	}
}

func TestLoad_ConfigFileAndPrecedence(t *testing.T) {
	_, cfgDir := isolate(t)

	testutil.MustWriteFile(t, filepath.Join(cfgDir, "config.cue"), `
distro: "fedora32"
playbook: "converge.yml"
pull_retries: 5
container_engine: "podman"
image: namespace: "quay.io/roles"
ui: verbose: true
distros: rockylinux9: init: "/usr/lib/systemd/systemd"
`)
	t.Setenv("playbook", "env.yml")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("pull-retries", 3, "")
	flags.String("distro", "centos7", "")
	if err := flags.Parse([]string{"--pull-retries=9"}); err != nil {
		t.Fatal(err)
	}

	p := NewProvider()
	cfg, err := p.Load(context.Background(), LoadOptions{ConfigDirPath: cfgDir, Flags: flags, Now: fixedNow})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if p.Source() != filepath.Join(cfgDir, "config.cue") {
		t.Errorf("Source() = %q", p.Source())
	}
	if cfg.Distro != "fedora32" {
		t.Errorf("unchanged flag must not override the file: Distro = %q", cfg.Distro)
	}
	if cfg.Playbook != "env.yml" {
		t.Errorf("env must override the file: Playbook = %q", cfg.Playbook)
	}
	if cfg.PullRetries != 9 {
		t.Errorf("flag must override the file: PullRetries = %d", cfg.PullRetries)
	}
	if cfg.ContainerEngine != ContainerEnginePodman || cfg.Image.Namespace != "quay.io/roles" || !cfg.UI.Verbose {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Image.Tag != "latest" {
		t.Errorf("default must survive nested file values: Image.Tag = %q", cfg.Image.Tag)
	}

	rocky, ok := cfg.Distros["rockylinux9"]
	if !ok {
		t.Fatalf("distros not loaded: %+v", cfg.Distros)
	}
	if !rocky.Privileged || !rocky.CgroupMount {
		t.Errorf("distro entry defaults not applied: %+v", rocky)
	}
	if def := cfg.DistroOverrides()["rockylinux9"]; def.Init != "/usr/lib/systemd/systemd" {
		t.Errorf("DistroOverrides() = %+v", cfg.DistroOverrides())
	}
}

func TestLoad_LocalConfigFile(t *testing.T) {
	roleDir, cfgDir := isolate(t)
	testutil.MustWriteFile(t, filepath.Join(roleDir, LocalConfigFile), `distro: "centos8"`)

	p := NewProvider()
	cfg, err := p.Load(context.Background(), LoadOptions{ConfigDirPath: cfgDir, Now: fixedNow})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Distro != "centos8" {
		t.Errorf("Distro = %q, want centos8", cfg.Distro)
	}
	if p.Source() != LocalConfigFile {
		t.Errorf("Source() = %q", p.Source())
	}
}

func TestLoad_SchemaViolation(t *testing.T) {
	_, cfgDir := isolate(t)
	path := filepath.Join(cfgDir, "custom.cue")
	testutil.MustWriteFile(t, path, `container_engine: "lxc"`)

	_, err := load(t, LoadOptions{ConfigFilePath: path})
	if err == nil {
		t.Fatal("expected schema error")
	}
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("expected ActionableError, got %T", err)
	}
	if ae.Resource != path {
		t.Errorf("Resource = %q, want %q", ae.Resource, path)
	}
	if !strings.Contains(err.Error(), "container_engine") {
		t.Errorf("error should name the field: %v", err)
	}
	if !slices.Contains(ae.Suggestions, "Fix the value of container_engine") {
		t.Errorf("Suggestions = %v, want one naming container_engine", ae.Suggestions)
	}
}

func TestLoad_UnknownField(t *testing.T) {
	_, cfgDir := isolate(t)
	path := filepath.Join(cfgDir, "custom.cue")
	testutil.MustWriteFile(t, path, `distribution: "centos7"`)

	if _, err := load(t, LoadOptions{ConfigFilePath: path}); err == nil {
		t.Fatal("expected error for unknown field in closed schema")
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, cfgDir := isolate(t)

	_, err := load(t, LoadOptions{ConfigFilePath: filepath.Join(cfgDir, "nope.cue")})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestLoad_MissingRoleDir(t *testing.T) {
	_, cfgDir := isolate(t)
	t.Setenv("ROLETEST_ROLE_DIR", filepath.Join(cfgDir, "does-not-exist"))

	_, err := load(t, LoadOptions{ConfigDirPath: cfgDir})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if got := issue.IssueOf(err); got == nil || got.Id() != issue.RoleDirNotFoundId {
		t.Errorf("expected role-dir issue, got %v", got)
	}
}

func TestLoad_RelativeRoleDirMadeAbsolute(t *testing.T) {
	roleDir, cfgDir := isolate(t)
	testutil.MustWriteFile(t, filepath.Join(roleDir, "sub", "tests", "test.yml"), testutil.DefaultTestPlaybook)
	t.Setenv("role_dir", "sub")

	cfg, err := load(t, LoadOptions{ConfigDirPath: cfgDir})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !filepath.IsAbs(cfg.RoleDir) || filepath.Base(cfg.RoleDir) != "sub" {
		t.Errorf("RoleDir = %q, want absolute path ending in sub", cfg.RoleDir)
	}
}

func TestLoad_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProvider().Load(ctx, LoadOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGenerateCUE_RoundTrip(t *testing.T) {
	_, cfgDir := isolate(t)

	want := DefaultConfig()
	want.Distro = "ubuntu1804"
	want.AnsibleArgs = `-e "x=1"`
	want.Distros = map[string]DistroConfig{
		"alma9": {Init: "/usr/lib/systemd/systemd", Privileged: true},
	}
	path := filepath.Join(cfgDir, "config.cue")
	testutil.MustWriteFile(t, path, GenerateCUE(want))

	got, err := load(t, LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load(generated) error: %v", err)
	}
	if got.Distro != want.Distro || got.AnsibleArgs != want.AnsibleArgs {
		t.Errorf("round trip lost values: %+v", got)
	}
	if d := got.Distros["alma9"]; d.CgroupMount || !d.Privileged {
		t.Errorf("distro entry = %+v", d)
	}
}

func TestCreateDefaultConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "roletest")

	path, err := CreateDefaultConfig(dir)
	if err != nil {
		t.Fatalf("CreateDefaultConfig() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `distro: "centos7"`) {
		t.Errorf("unexpected content:\n%s", data)
	}

	if err := os.WriteFile(path, []byte(`distro: "keep"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateDefaultConfig(dir); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != `distro: "keep"` {
		t.Error("CreateDefaultConfig must not overwrite an existing file")
	}
}

func TestConfigDir_XDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG lookup is only used on linux")
	}
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Cleanup(testutil.SetHomeDir(t, t.TempDir()))

	dir, err := ConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join(xdg, AppName) {
		t.Errorf("ConfigDir() = %q", dir)
	}
}

func TestEnvNames(t *testing.T) {
	t.Parallel()

	if got := EnvNames("distro"); len(got) != 2 || got[0] != "ROLETEST_DISTRO" || got[1] != "distro" {
		t.Errorf("EnvNames(distro) = %v", got)
	}
	if got := EnvNames("image.namespace"); len(got) != 1 || got[0] != "ROLETEST_IMAGE_NAMESPACE" {
		t.Errorf("EnvNames(image.namespace) = %v", got)
	}
	if FlagName("role_dir") != "role-dir" {
		t.Errorf("FlagName(role_dir) = %q", FlagName("role_dir"))
	}
	if EnvNames("nope") != nil {
		t.Error("EnvNames(unknown) should be nil")
	}
}
