// Copyright (c) TaskMesh Authors.
// Licensed under the MIT License.

// Package workflow executes named graphs of tasks under one of three
// coordination modes.
//
// Sequential runs nodes one at a time in declaration order. Parallel
// dispatches every dependency-satisfied node concurrently, bounded by the
// engine's max concurrency. Conditional walks the graph in topological
// order and gates each node on a predicate over its dependencies' results.
//
// In every mode a node whose dependency did not complete is skipped, and
// skips propagate transitively. Specs are validated up front: duplicate
// ids, unknown dependencies and cycles are rejected before any task runs.
package workflow
