// Package api hosts the HTTP server that serves the latest snapshot record.
// Routes:
//   - GET / returns the stored record verbatim as JSON.
//   - GET /health for liveness probes.
//   - GET /metrics for Prometheus scraping.
package api
