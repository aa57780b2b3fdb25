// Package logging provides structured logging for the Fing bridge.
//
// This package wraps Go's standard log/slog package so every component
// logs the same way.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting bridge", "entries", 2)
//	logger.Error("poll failed", "error", err)
//
// # Security
//
// Never log Fing API keys or broker passwords in full; use Redact:
//
//	logger.Info("entry configured", "api_key", logging.Redact(key))
package logging
