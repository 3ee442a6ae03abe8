// Package api hosts the HTTP server, middleware, and REST handlers for
// managing monitored sites. Notable routes:
//   - GET /healthz and /readyz for liveness and store readiness.
//   - GET /metrics for Prometheus scraping.
//   - /api/v1/websites for registering, listing, updating and removing sites.
//   - GET /api/v1/crawl-results/{id} for a site's retained history.
package api
