// Copyright (c) TaskMesh Authors.
// Licensed under the MIT License.

// Package server manages the operational HTTP endpoint: non-blocking
// startup, graceful shutdown on SIGINT/SIGTERM, and the /healthz and
// /metrics routes.
package server
