// Package config provides TaskMesh configuration: a typed Config tree with
// per-section defaults, YAML file loading and environment variable overrides.
//
// Precedence: defaults → YAML file → environment variables. Environment keys
// follow the env struct tags, prefixed with TASKMESH by default, e.g.
// TASKMESH_BREAKER_FAILURE_THRESHOLD.
package config
