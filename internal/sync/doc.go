// Package sync turns changed catalog ids into up-to-date index documents.
//
// # Overview
//
// A change to a genre or person affects more than its own document: every
// work that lists it carries a denormalized copy. The Resolver expands a
// (table, ids) pair into the full set of affected documents:
//
//	work ids    ──────────────────────────────► wide join ─► WorkStage ─► works
//	genre ids   ─► narrow join ─► GenreStage ─► genres
//	            └► associated work ids (≤100) ─► wide join ─► WorkStage ─► works
//	person ids  ─► narrow join ─► PersonStage ─► persons
//	            └► associated work ids (≤100) ─► wide join ─► WorkStage ─► works
//
// The Rebuilder drops every collection and reloads it by paging over entity
// ids, reusing the same joins.
//
// # Error Handling
//
// Relational failures are retried without limit, reconnecting before each
// new attempt; an id set is never dropped. Index failures that survive the
// writer's own retries are returned so the caller keeps its watermark.
//
// # Concurrency
//
// A Resolver is driven by a single goroutine and is not safe for concurrent
// use.
package sync
