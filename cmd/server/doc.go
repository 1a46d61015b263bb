// Package main runs the browser shell core as an HTTP service.
//
// The UI layer (a mobile webview or any other client) drives tabs,
// bookmarks, history, settings and downloads over the JSON API and
// follows state through the /api/stream websocket.
//
// Content surfaces:
//
//	sandbox   fetch and render pages in-process (default)
//	chromium  drive a headless Chromium over DevTools
//	remote    forward to a device-side webview attached at /api/tabs/:id/surface
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	./server -port 8080 -surface sandbox
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown, flushing browser state
package main
