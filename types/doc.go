// Copyright (c) TaskMesh Authors.
// Licensed under the MIT License.

/*
Package types provides the shared type contracts of the TaskMesh engine.

types is the lowest-level public package. It depends on no internal package
and defines everything shared across registry, memory, delegator, workflow
and orchestrator so that upper layers never need circular imports.

Core types:

  - Role / AgentDescriptor: worker identity, capability tags and liveness
  - Task / TaskState / TaskResult: a single unit of delegated work
  - WorkflowSpec / NodeSpec / WorkflowResult: task graphs and their outcomes
  - MemoryCategory / MemoryRecord: categorized outcome memory
  - Error / ErrorCode: structured error taxonomy with retryability
*/
package types
