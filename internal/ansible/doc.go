// SPDX-License-Identifier: MPL-2.0

// Package ansible builds the ansible-playbook and ansible-galaxy command lines run inside the
// test container and interprets their output (PLAY RECAP parsing, idempotence check).
//
// Nothing here executes Ansible; commands are returned as argv slices for the container engine.
package ansible
