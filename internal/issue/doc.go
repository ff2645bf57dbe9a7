// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// ActionableError carries the failed operation, the resource involved and remediation hints.
// The Issue catalog holds longer Markdown guidance, rendered with glamour, for the failures a
// role test run commonly hits (missing engine, unknown distro, syntax check, idempotence).
package issue
