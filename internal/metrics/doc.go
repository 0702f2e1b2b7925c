// Package metrics wires OpenTelemetry metrics to a Prometheus scrape
// endpoint.
//
// Key metrics:
//   - Feed client connection state, reconnects and message rates (internal/feed)
//   - Writer inserts, conflicts and flush latency (internal/writer)
//   - Output queue backlog
//   - Database connection pool stats
package metrics
