// SPDX-License-Identifier: MPL-2.0

// Package config resolves roletest settings with Viper, using CUE as the file format.
//
// Values come from, in decreasing precedence: command-line flags, environment variables
// (ROLETEST_* or the bare lowercase names such as distro and playbook), a config file, and
// built-in defaults. The config file is looked up at the --config path, then
// $XDG_CONFIG_HOME/roletest/config.cue, then ./roletest.cue.
//
// The file is validated against an embedded CUE schema (config_schema.cue) before it is merged.
package config
