// Package logging provides structured logging for the Free Sleep core.
//
// It wraps log/slog so every component logs with the same shape:
// JSON in production, text for local development, and the service and
// version fields on every entry.
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
//	logger.Component("poller").Info("status poll ok", "duration_ms", 42)
package logging
