// Package article defines the retrieved-content model shared by the fetch
// engine: the Article record, the Source tags raced against each other, URL
// normalization for cache keys, and the error taxonomy surfaced by sources,
// the slot limiter, and the race orchestrator.
package article
