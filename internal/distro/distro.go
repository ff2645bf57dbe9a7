// SPDX-License-Identifier: MPL-2.0

package distro

import (
	"errors"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"

	"github.com/roletest/roletest/internal/container"
)

const (
	systemdRedHat = "/usr/lib/systemd/systemd"
	systemdDebian = "/lib/systemd/systemd"
	sysvInit      = "/sbin/init"

	cgroupPath = "/sys/fs/cgroup"
)

var (
	// ErrUnknownDistro is the sentinel error wrapped by UnknownDistroError.
	ErrUnknownDistro = errors.New("unknown distro")

	// ErrInvalidDefinition is the sentinel error wrapped by InvalidDefinitionError.
	ErrInvalidDefinition = errors.New("invalid distro definition")

	// builtin is the stock table of published test images.
	builtin = map[string]Definition{
		"centos8":    {Init: systemdRedHat, Privileged: true, CgroupMount: true},
		"centos7":    {Init: systemdRedHat, Privileged: true, CgroupMount: true},
		"centos6":    {Init: sysvInit, Privileged: true},
		"fedora32":   {Init: systemdRedHat, Privileged: true, CgroupMount: true},
		"ubuntu2004": {Init: systemdDebian, Privileged: true, CgroupMount: true},
		"ubuntu1804": {Init: systemdDebian, Privileged: true, CgroupMount: true},
		"ubuntu1604": {Init: systemdDebian, Privileged: true, CgroupMount: true},
		"debian10":   {Init: systemdDebian, Privileged: true, CgroupMount: true},
		"debian9":    {Init: systemdDebian, Privileged: true, CgroupMount: true},
	}
)

type (
	// Definition describes how to start a distro's test image.
	Definition struct {
		// Init is the absolute path of the init process started as the container command.
		Init string
		// Privileged runs the container with --privileged.
		Privileged bool
		// CgroupMount bind-mounts the host cgroup hierarchy read-only, as systemd requires.
		CgroupMount bool
	}

	// Distro is a resolved table entry.
	Distro struct {
		Name string
		Definition
	}

	// Registry looks up distros by name.
	Registry struct {
		entries map[string]Distro
	}

	// UnknownDistroError is returned when a name is not in the registry.
	UnknownDistroError struct {
		Name      string
		Supported []string
	}

	// InvalidDefinitionError is returned when a configured distro entry cannot be used.
	InvalidDefinitionError struct {
		Name   string
		Reason string
	}
)

// Error implements the error interface.
func (e *UnknownDistroError) Error() string {
	return fmt.Sprintf("unknown distro %q (supported: %s)", e.Name, strings.Join(e.Supported, ", "))
}

// Unwrap returns ErrUnknownDistro for errors.Is() compatibility.
func (e *UnknownDistroError) Unwrap() error { return ErrUnknownDistro }

// Error implements the error interface.
func (e *InvalidDefinitionError) Error() string {
	return fmt.Sprintf("invalid distro %q: %s", e.Name, e.Reason)
}

// Unwrap returns ErrInvalidDefinition for errors.Is() compatibility.
func (e *InvalidDefinitionError) Unwrap() error { return ErrInvalidDefinition }

// Validate checks that the definition names an absolute init path.
func (d Definition) Validate(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t/:") {
		return &InvalidDefinitionError{Name: name, Reason: "name must be a single word without slashes or colons"}
	}
	if d.Init == "" || !path.IsAbs(d.Init) {
		return &InvalidDefinitionError{Name: name, Reason: fmt.Sprintf("init %q must be an absolute path", d.Init)}
	}
	return nil
}

// Volumes returns the extra bind mounts the distro needs besides the role mount.
func (d Distro) Volumes() []container.VolumeMount {
	if !d.CgroupMount {
		return nil
	}
	return []container.VolumeMount{{
		HostPath:      cgroupPath,
		ContainerPath: cgroupPath,
		ReadOnly:      true,
	}}
}

// Command returns the container command that boots the distro's init system.
func (d Distro) Command() []string {
	return []string{d.Init}
}

// Image returns the test image reference for the distro.
func (d Distro) Image(namespace, tag string) container.ImageTag {
	return ImageRef(namespace, d.Name, tag)
}

// ImageRef builds "<namespace>/docker-<name>-ansible:<tag>". An empty tag means latest.
func ImageRef(namespace, name, tag string) container.ImageTag {
	if tag == "" {
		tag = "latest"
	}
	ref := "docker-" + name + "-ansible:" + tag
	if namespace != "" {
		ref = namespace + "/" + ref
	}
	return container.ImageTag(ref)
}

// NewRegistry returns the builtin table with overrides applied on top.
// Override names are normalised like lookups; an override replaces a builtin entry wholesale.
func NewRegistry(overrides map[string]Definition) (*Registry, error) {
	entries := make(map[string]Distro, len(builtin)+len(overrides))
	for name, def := range builtin {
		entries[name] = Distro{Name: name, Definition: def}
	}

	var errs []error
	for _, name := range slices.Sorted(maps.Keys(overrides)) {
		def := overrides[name]
		key := normalize(name)
		if err := def.Validate(key); err != nil {
			errs = append(errs, err)
			continue
		}
		entries[key] = Distro{Name: key, Definition: def}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Registry{entries: entries}, nil
}

// Default returns the registry with only the builtin table.
func Default() *Registry {
	r, _ := NewRegistry(nil)
	return r
}

// Lookup finds a distro by name. Matching ignores case and surrounding whitespace.
func (r *Registry) Lookup(name string) (Distro, error) {
	if d, ok := r.entries[normalize(name)]; ok {
		return d, nil
	}
	return Distro{}, &UnknownDistroError{Name: name, Supported: r.Names()}
}

// Names returns the supported distro names in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.entries))
}

// All returns every distro sorted by name.
func (r *Registry) All() []Distro {
	names := r.Names()
	out := make([]Distro, 0, len(names))
	for _, n := range names {
		out = append(out, r.entries[n])
	}
	return out
}

// IsBuiltin reports whether name is part of the stock table.
func IsBuiltin(name string) bool {
	_, ok := builtin[normalize(name)]
	return ok
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
