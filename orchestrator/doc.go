// Copyright (c) TaskMesh Authors.
// Licensed under the MIT License.

// Package orchestrator is the engine facade: it wires the agent registry,
// memory store, circuit breakers, delegator and workflow engine together
// and exposes the public task and workflow operations.
package orchestrator
