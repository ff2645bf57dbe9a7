// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strings"

	"github.com/roletest/roletest/internal/issue"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// VolumeFormatFunc formats a volume mount spec as a string for the -v flag.
	// Podman uses this to add SELinux labels (:z) in SELinux-enforcing environments.
	VolumeFormatFunc func(volume VolumeMount) string

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine provides the common implementation for CLI-based container engines.
	// Docker and Podman engines embed this struct. Methods that are identical across
	// engines (Pull, Start, Inspect, Resume, Exec, Remove) live here; engine-specific
	// methods (Name, Available, Version, ImageExists) remain on the concrete types.
	BaseCLIEngine struct {
		name            string // Engine name for error messages (e.g., "docker", "podman")
		binaryPath      string
		execCommand     ExecCommandFunc
		volumeFormatter VolumeFormatFunc
	}
)

// --- Option Functions ---

// WithName sets the engine name used in error messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.name = name
	}
}

// WithBinaryPath overrides the engine binary resolved from PATH.
func WithBinaryPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.binaryPath = path
	}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// WithVolumeFormatter sets a custom volume formatter function.
func WithVolumeFormatter(fn VolumeFormatFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.volumeFormatter = fn
	}
}

// --- Constructor ---

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:      binaryPath,
		execCommand:     exec.CommandContext,
		volumeFormatter: FormatVolumeMount,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// --- Argument Builders ---

// PullArgs constructs arguments for an image pull.
//
// Generated command: <binary> pull <image>
func (e *BaseCLIEngine) PullArgs(image ImageTag) []string {
	return []string{"pull", string(image)}
}

// StartArgs constructs arguments for starting a detached container.
//
// Generated command: <binary> run --detach [options] <image> [command...]
func (e *BaseCLIEngine) StartArgs(opts StartOptions) []string {
	args := []string{"run", "--detach"}

	if opts.Name != "" {
		args = append(args, "--name", string(opts.Name))
	}

	if opts.Privileged {
		args = append(args, "--privileged")
	}

	args = append(args, envArgs(opts.Env)...)

	for _, v := range opts.Volumes {
		args = append(args, "--volume", e.volumeFormatter(v))
	}

	args = append(args, opts.ExtraArgs...)
	args = append(args, string(opts.Image))
	args = append(args, opts.Command...)

	return args
}

// ExecArgs constructs arguments for a container exec command.
//
// Generated command: <binary> exec [options] <container> <command...>
func (e *BaseCLIEngine) ExecArgs(containerID ContainerID, opts ExecOptions) []string {
	args := []string{"exec"}

	if opts.Interactive {
		args = append(args, "--interactive")
	}

	if opts.TTY {
		args = append(args, "--tty")
	}

	if opts.WorkDir != "" {
		args = append(args, "--workdir", opts.WorkDir)
	}

	args = append(args, envArgs(opts.Env)...)

	args = append(args, string(containerID))
	args = append(args, opts.Command...)

	return args
}

// InspectArgs constructs arguments that print a container's running state.
func (e *BaseCLIEngine) InspectArgs(containerID ContainerID) []string {
	return []string{"container", "inspect", "--format", "{{.State.Running}}", string(containerID)}
}

// RemoveArgs constructs arguments for a container remove command.
func (e *BaseCLIEngine) RemoveArgs(containerID ContainerID, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, string(containerID))
	return args
}

// envArgs renders env vars as -e flags in key order so invocations are reproducible.
func envArgs(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	args := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, env[k]))
	}
	return args
}

// --- Command Execution ---

// CreateCommand creates an exec.Cmd for the given arguments.
// This is useful when the caller needs to customize stdin/stdout/stderr.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// RunCommandStatus executes a command and returns only the error status.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	cmd := e.CreateCommand(ctx, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return commandError(e.binaryPath, args, stderr.String(), err)
	}
	return nil
}

// RunCommandWithOutput executes a command with stdout captured to a buffer.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), commandError(e.binaryPath, args, stderr.String(), err)
	}

	return stdout.String(), nil
}

// --- Promoted Engine Methods (shared by Docker and Podman) ---

// Pull downloads an image.
func (e *BaseCLIEngine) Pull(ctx context.Context, image ImageTag, stdout, stderr io.Writer) error {
	if err := image.Validate(); err != nil {
		return err
	}

	args := e.PullArgs(image)

	var tail bytes.Buffer
	cmd := e.CreateCommand(ctx, args...)
	cmd.Stdout = stdout
	cmd.Stderr = teeWriter(stderr, &tail)

	if err := cmd.Run(); err != nil {
		return pullImageError(e.name, image, commandError(e.binaryPath, args, tail.String(), err))
	}
	return nil
}

// Start creates and starts a detached container and returns the ID the engine printed.
func (e *BaseCLIEngine) Start(ctx context.Context, opts StartOptions) (ContainerID, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}

	out, err := e.RunCommandWithOutput(ctx, e.StartArgs(opts)...)
	if err != nil {
		return "", startContainerError(e.name, opts, err)
	}

	id := strings.TrimSpace(out)
	if id == "" {
		id = string(opts.Name)
	}
	return ContainerID(id), nil
}

// Inspect reports whether a container exists and whether it is running.
// A non-zero exit from the engine means the container does not exist.
func (e *BaseCLIEngine) Inspect(ctx context.Context, containerID ContainerID) (State, error) {
	if err := containerID.Validate(); err != nil {
		return State{}, err
	}

	cmd := e.CreateCommand(ctx, e.InspectArgs(containerID)...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("inspect container %s: %w", containerID, err)
	}

	return State{
		Exists:  true,
		Running: strings.TrimSpace(stdout.String()) == "true",
	}, nil
}

// Resume starts an existing, stopped container.
func (e *BaseCLIEngine) Resume(ctx context.Context, containerID ContainerID) error {
	return e.RunCommandStatus(ctx, "start", string(containerID))
}

// Exec runs a command in a running container.
// A non-zero exit code is captured in ExecResult.ExitCode (not returned as error).
// Only infrastructure failures (binary not found, etc.) are returned as errors.
func (e *BaseCLIEngine) Exec(ctx context.Context, containerID ContainerID, opts ExecOptions) (*ExecResult, error) {
	if err := containerID.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Command) == 0 {
		return nil, errors.New("exec: command must not be empty")
	}

	cmd := e.CreateCommand(ctx, e.ExecArgs(containerID, opts)...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	result := &ExecResult{ContainerID: containerID}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("exec in container %s: %w", containerID, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	return result, nil
}

// Remove removes a container.
func (e *BaseCLIEngine) Remove(ctx context.Context, containerID ContainerID, force bool) error {
	if err := containerID.Validate(); err != nil {
		return err
	}
	return e.RunCommandStatus(ctx, e.RemoveArgs(containerID, force)...)
}

// Validate returns an error if any field of the StartOptions is invalid.
func (o StartOptions) Validate() error {
	var errs []error
	if err := o.Image.Validate(); err != nil {
		errs = append(errs, err)
	}
	if o.Name != "" {
		if err := o.Name.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, v := range o.Volumes {
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// --- Error Helpers ---

// CommandError reports a failed engine invocation together with what it printed to stderr.
type CommandError struct {
	Binary string
	Args   []string
	Stderr string
	Err    error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s %s failed: %v", e.Binary, strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Unwrap returns the underlying exec error.
func (e *CommandError) Unwrap() error { return e.Err }

func commandError(binary string, args []string, stderr string, err error) error {
	return &CommandError{Binary: binary, Args: args, Stderr: stderr, Err: err}
}

// teeWriter duplicates writes to w (when set) and to the capture buffer.
func teeWriter(w io.Writer, capture *bytes.Buffer) io.Writer {
	if w == nil {
		return capture
	}
	return io.MultiWriter(w, capture)
}

// pullImageError creates an actionable error for image pull failures.
func pullImageError(engine string, image ImageTag, cause error) error {
	return issue.NewErrorContext().
		WithOperation("pull image").
		WithResource(string(image)).
		WithIssue(issueFor(cause, issue.ImagePullFailedId)).
		WithSuggestion("Check your network connection and registry access").
		WithSuggestion("Verify the distro name maps to a published image (try: roletest distros)").
		WithSuggestion("Try pulling manually: " + engine + " pull " + string(image)).
		Wrap(cause).
		BuildError()
}

// startContainerError creates an actionable error for container start failures.
func startContainerError(engine string, opts StartOptions, cause error) error {
	ctx := issue.NewErrorContext().
		WithOperation("start container").
		WithResource(string(opts.Image)).
		WithIssue(issueFor(cause, issue.ContainerStartFailedId))

	if opts.Name != "" {
		ctx.WithSuggestion("A container named " + string(opts.Name) + " may already exist; remove it (" +
			engine + " rm -f " + string(opts.Name) + ") or set reuse_container=true")
	}
	ctx.WithSuggestion("Check that the role directory exists on the host and can be bind-mounted")
	if opts.Privileged {
		ctx.WithSuggestion("Privileged containers may need a rootful " + engine + " daemon")
	}

	return ctx.Wrap(cause).BuildError()
}

// issueFor returns PermissionDeniedId when the engine refused the call for lack of
// access to its socket, else fallback.
func issueFor(cause error, fallback issue.Id) issue.Id {
	var cmdErr *CommandError
	if errors.As(cause, &cmdErr) && strings.Contains(strings.ToLower(cmdErr.Stderr), "permission denied") {
		return issue.PermissionDeniedId
	}
	return fallback
}
