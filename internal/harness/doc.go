// SPDX-License-Identifier: MPL-2.0

// Package harness runs a role test: it resolves the distro, starts (or reuses) a test container,
// runs the preparation playbook, installs requirements, syntax-checks and applies the test
// playbook, optionally checks idempotence, and removes the container.
//
// Steps run in order and the first failing step stops the run with a *StepError that carries
// the exit code of the failing command.
package harness
