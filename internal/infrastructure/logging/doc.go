// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Components receive a *Logger by injection and derive a named child with
// Component. A nil logger is replaced with a no-op one via OrNop, so tests
// can construct components without wiring logging.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Component("bridge").Warn("dropping frame", zap.Error(err))
package logging
