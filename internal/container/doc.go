// SPDX-License-Identifier: MPL-2.0

// Package container drives container engines (Docker/Podman) through their command-line interfaces.
//
// The Engine interface covers the lifecycle a role test needs: Pull, Start (detached),
// Inspect, Resume, Exec, Remove and ImageExists. DockerEngine and PodmanEngine both embed
// BaseCLIEngine, which owns argument construction and command execution. Nothing here talks
// to an engine API socket; every operation is a subprocess invocation of the engine binary.
//
// Engine selection uses NewEngine(EngineType) with automatic fallback if the preferred engine
// is unavailable, or AutoDetectEngine() for preference-less detection (Docker is tried first).
package container
