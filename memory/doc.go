// Copyright (c) TaskMesh Authors.
// Licensed under the MIT License.

// Package memory provides the categorized memory store that feeds context
// enrichment and captures task outcomes.
//
// Records live in one of four categories (project, pattern, team, error).
// Retrieval ranks candidates deterministically by tag overlap, then content
// token overlap, then recency, with record id as the final tiebreak.
//
// Three backends implement the Store interface: an in-process store with
// LRU eviction and TTL expiry, a Redis store and a SQLite store.
package memory
