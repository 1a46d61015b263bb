/*
Package monitoring provides Prometheus metrics for the browser shell host.

# Collected

  - HTTP requests from the UI layer (by route template)
  - Bridge traffic: inbound messages by type, malformed drops, outbound commands
  - Injection handshake outcomes (injected, retry, verified, failed)
  - Tabs with live surfaces, page loads and sandbox fetch latency
  - Persisted-state writes and download totals
  - WebSocket connections and messages

# Usage

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

All recording methods accept a nil receiver.
*/
package monitoring
