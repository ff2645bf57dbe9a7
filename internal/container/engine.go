// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
)

const (
	// EngineTypePodman selects the Podman CLI.
	EngineTypePodman EngineType = "podman"
	// EngineTypeDocker selects the Docker CLI.
	EngineTypeDocker EngineType = "docker"
)

// ErrInvalidEngineType is returned when an EngineType value is not recognized.
var ErrInvalidEngineType = errors.New("invalid container engine type")

type (
	// Engine defines the container operations used by the role test harness.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available checks if the engine is installed and its daemon/service answers.
		Available() bool
		// Version returns the engine version.
		Version(ctx context.Context) (string, error)

		// Pull downloads an image, streaming progress to the given writers.
		Pull(ctx context.Context, image ImageTag, stdout, stderr io.Writer) error
		// Start creates and starts a detached container and returns its ID.
		Start(ctx context.Context, opts StartOptions) (ContainerID, error)
		// Inspect reports whether a container exists and whether it is running.
		Inspect(ctx context.Context, nameOrID ContainerID) (State, error)
		// Resume starts an existing, stopped container.
		Resume(ctx context.Context, nameOrID ContainerID) error
		// Exec runs a command inside a running container.
		Exec(ctx context.Context, nameOrID ContainerID, opts ExecOptions) (*ExecResult, error)
		// Remove removes a container.
		Remove(ctx context.Context, nameOrID ContainerID, force bool) error
		// ImageExists checks if an image is present locally.
		ImageExists(ctx context.Context, image ImageTag) (bool, error)
	}

	// StartOptions contains options for starting a detached container.
	StartOptions struct {
		// Image is the image to run.
		Image ImageTag
		// Name is the container name.
		Name ContainerID
		// Command is the process to run as PID 1 (usually the distro's init).
		Command []string
		// Privileged runs the container with extended privileges.
		Privileged bool
		// Volumes are bind mounts.
		Volumes []VolumeMount
		// Env contains environment variables.
		Env map[string]string
		// ExtraArgs are passed to `run` verbatim, before the image.
		ExtraArgs []string
	}

	// ExecOptions contains options for running a command in a container.
	ExecOptions struct {
		// Command is the command to run.
		Command []string
		// Env contains environment variables.
		Env map[string]string
		// WorkDir is the working directory inside the container.
		WorkDir string
		// TTY allocates a pseudo-TTY.
		TTY bool
		// Interactive keeps stdin open.
		Interactive bool
		// Stdin is the standard input.
		Stdin io.Reader
		// Stdout is where to write standard output.
		Stdout io.Writer
		// Stderr is where to write standard error.
		Stderr io.Writer
	}

	// ExecResult contains the result of running a command in a container.
	ExecResult struct {
		// ContainerID is the container the command ran in.
		ContainerID ContainerID
		// ExitCode is the exit code of the command.
		ExitCode int
	}

	// State is an engine-agnostic view of a container's status.
	State struct {
		Exists  bool
		Running bool
	}

	// EngineType identifies the container engine type.
	EngineType string

	// InvalidEngineTypeError is returned when an EngineType value is not recognized.
	InvalidEngineTypeError struct {
		Value EngineType
	}

	// EngineNotAvailableError is returned when a container engine is not available.
	EngineNotAvailableError struct {
		Engine string
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidEngineTypeError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: docker, podman)", e.Value)
}

// Unwrap returns ErrInvalidEngineType for errors.Is() compatibility.
func (e *InvalidEngineTypeError) Unwrap() error { return ErrInvalidEngineType }

// Validate returns an error if the EngineType is not one of the defined engines.
func (t EngineType) Validate() error {
	switch t {
	case EngineTypeDocker, EngineTypePodman:
		return nil
	default:
		return &InvalidEngineTypeError{Value: t}
	}
}

// String returns the string representation of the EngineType.
func (t EngineType) String() string { return string(t) }

func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// NewEngine creates a container engine based on preference, falling back to the other one.
func NewEngine(preferredType EngineType, opts ...BaseCLIEngineOption) (Engine, error) {
	switch preferredType {
	case EngineTypePodman:
		engine := NewPodmanEngine(opts...)
		if engine.Available() {
			return engine, nil
		}
		dockerEngine := NewDockerEngine(opts...)
		if dockerEngine.Available() {
			return dockerEngine, nil
		}
		return nil, &EngineNotAvailableError{
			Engine: "podman",
			Reason: "podman is not installed or not accessible, and docker fallback is also not available",
		}

	case EngineTypeDocker:
		engine := NewDockerEngine(opts...)
		if engine.Available() {
			return engine, nil
		}
		podmanEngine := NewPodmanEngine(opts...)
		if podmanEngine.Available() {
			return podmanEngine, nil
		}
		return nil, &EngineNotAvailableError{
			Engine: "docker",
			Reason: "docker is not installed or not accessible, and podman fallback is also not available",
		}

	default:
		return nil, &InvalidEngineTypeError{Value: preferredType}
	}
}

// AutoDetectEngine tries to find an available container engine.
// Docker is tried first since the distro test images are published for it.
func AutoDetectEngine(opts ...BaseCLIEngineOption) (Engine, error) {
	docker := NewDockerEngine(opts...)
	if docker.Available() {
		return docker, nil
	}

	podman := NewPodmanEngine(opts...)
	if podman.Available() {
		return podman, nil
	}

	return nil, &EngineNotAvailableError{
		Engine: "any",
		Reason: "no container engine (docker or podman) is available on this system",
	}
}
