// Package api hosts the HTTP server for the bot. Notable routes:
//   - GET / for a liveness banner.
//   - GET /healthz and /readyz for orchestrator probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /telegram/{secret} for Bot API webhook deliveries. Updates are
//     acknowledged immediately and handled in the background.
package api
