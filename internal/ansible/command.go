// SPDX-License-Identifier: MPL-2.0

package ansible

import (
	"fmt"
	"maps"
	"slices"

	"mvdan.cc/sh/v3/shell"
)

const (
	// DefaultPlaybookBinary is the playbook runner shipped in the test images.
	DefaultPlaybookBinary = "ansible-playbook"
	// DefaultGalaxyBinary is the role/collection installer shipped in the test images.
	DefaultGalaxyBinary = "ansible-galaxy"
)

// Tool renders Ansible command lines.
//
// Every command goes through env(1) with TERM=xterm so ansible sees a usable terminal type even
// when the exec has no TTY.
type Tool struct {
	// PlaybookBinary defaults to DefaultPlaybookBinary.
	PlaybookBinary string
	// GalaxyBinary defaults to DefaultGalaxyBinary.
	GalaxyBinary string
	// ExtraArgs are appended to playbook runs (not to the syntax check or galaxy).
	ExtraArgs []string
	// Env is added to every command after TERM.
	Env map[string]string
}

// NewTool returns a Tool with default binaries and the given extra playbook args.
func NewTool(extraArgs []string) Tool {
	return Tool{ExtraArgs: slices.Clone(extraArgs)}
}

// PlaybookCommand runs the playbook with forced colour output.
func (t Tool) PlaybookCommand(playbook string) []string {
	cmd := t.envPrefix("ANSIBLE_FORCE_COLOR=1")
	cmd = append(cmd, t.playbookBinary(), playbook)
	return append(cmd, t.ExtraArgs...)
}

// IdempotenceCommand runs the playbook again without forced colour so the recap can be grepped.
func (t Tool) IdempotenceCommand(playbook string) []string {
	cmd := t.envPrefix()
	cmd = append(cmd, t.playbookBinary(), playbook)
	return append(cmd, t.ExtraArgs...)
}

// SyntaxCheckCommand validates the playbook without running it.
func (t Tool) SyntaxCheckCommand(playbook string) []string {
	cmd := t.envPrefix()
	return append(cmd, t.playbookBinary(), playbook, "--syntax-check")
}

// GalaxyInstallCommand installs the roles listed in a requirements file.
func (t Tool) GalaxyInstallCommand(requirements string) []string {
	cmd := t.envPrefix()
	return append(cmd, t.galaxyBinary(), "install", "-r", requirements)
}

// CollectionInstallCommand installs the collections listed in a requirements file.
func (t Tool) CollectionInstallCommand(requirements string) []string {
	cmd := t.envPrefix()
	return append(cmd, t.galaxyBinary(), "collection", "install", "-r", requirements)
}

func (t Tool) envPrefix(extra ...string) []string {
	cmd := []string{"env", "TERM=xterm"}
	cmd = append(cmd, extra...)
	for _, k := range slices.Sorted(maps.Keys(t.Env)) {
		cmd = append(cmd, k+"="+t.Env[k])
	}
	return cmd
}

func (t Tool) playbookBinary() string {
	if t.PlaybookBinary != "" {
		return t.PlaybookBinary
	}
	return DefaultPlaybookBinary
}

func (t Tool) galaxyBinary() string {
	if t.GalaxyBinary != "" {
		return t.GalaxyBinary
	}
	return DefaultGalaxyBinary
}

// ParseExtraArgs splits a shell-quoted argument string the way a POSIX shell would.
// Variable references are expanded from the process environment; command substitution is rejected.
func ParseExtraArgs(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	fields, err := shell.Fields(s, nil)
	if err != nil {
		return nil, fmt.Errorf("parse ansible args %q: %w", s, err)
	}
	return fields, nil
}
