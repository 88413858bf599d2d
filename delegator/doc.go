// Copyright (c) TaskMesh Authors.
// Licensed under the MIT License.

// Package delegator dispatches single tasks to agents.
//
// Delegation validates the task, discovers candidate agents by role and
// capability, enriches the task context with relevant memory, and dispatches
// through the target agent's circuit breaker. An open breaker fails the
// candidate over to the next discovered agent. Outcomes are written back to
// memory asynchronously so a slow store never blocks the dispatch path.
package delegator
