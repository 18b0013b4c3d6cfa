// Package api hosts the HTTP server, middleware, and REST handlers.
// Notable routes:
//   - GET /healthz / readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /article for a raced or single-source article fetch.
//   - GET /article/enhanced to ask whether a longer version exists.
//   - GET /v1/articles/recent, /v1/slots and /v1/sources for operators.
package api
