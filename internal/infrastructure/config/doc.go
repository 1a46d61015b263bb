// Package config provides 12-factor configuration management for the
// browser shell host.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//   - Storage: Location and encoding of the persisted browser state
//   - Bridge: Injection verification delay and retry budget
//   - Surface: Content surface backend (sandbox, chromium, remote)
//   - Downloads: Download directory and timeout
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
