// Package logging provides structured logging for the Entrance gateway.
//
// It wraps log/slog so every component logs the same way: JSON for
// deployments, text for local development, and default service/version
// fields on every record.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// The --debug flag on the entrance command forces level debug.
//
// # Security
//
// Device credentials travel inside client requests. Session code logs a
// redacted copy of every message; never log raw request maps directly.
package logging
