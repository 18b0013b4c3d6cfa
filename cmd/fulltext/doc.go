// Package main hosts the fulltext service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, article retrieval, and enhancement endpoints. Every
//     article request is normalized, then either raced across all configured sources or sent to the one named.
//   - Sources: fast-direct fetches the origin page through Colly and extracts it with go-readability,
//     prerendered-lookup asks a prerender service (or a local headless Chrome) for the rendered DOM,
//     archive-mirror reads the closest web archive snapshot, and slow-extraction calls an article extraction API.
//     Each source reads and writes the shared cache around its upstream call.
//   - Race orchestrator: sources run in latency tiers under a global fetch slot limiter. The first non-truncated
//     result wins; truncated results are kept as fallbacks. Winners that may still improve schedule a deferred
//     enhancement check.
//   - Cache: a longer-wins store over an in-memory map, a NATS JetStream key-value bucket, or Cloud Storage objects.
//     Values are JSON compressed with zstd. Improvements feed the metadata index (memory or Postgres) and,
//     optionally, NATS events.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: FULLTEXT_SERVER_PORT or PORT, MAX_CONCURRENT_FETCHES, FETCH_SLOT_TIMEOUT_MS,
//     EXTRACTION_API_TOKEN, PRERENDER_API_TOKEN, FULLTEXT_CACHE_BACKEND and FULLTEXT_INDEX_DSN.
//   - Run locally: go run ./cmd/fulltext serve --config config.yaml (or rely solely on env overrides).
//   - One-shot: go run ./cmd/fulltext fetch https://example.com/story --source=auto
package main
