// SPDX-License-Identifier: MPL-2.0

// Package distro holds the table of distro test images and how each one must be started:
// the init process to run as PID 1 and the privilege and mount options it needs.
package distro
