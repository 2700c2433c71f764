// Package logging provides structured logging for the VTO bridge.
//
// This package wraps a global zap logger with convenience functions used by
// the protocol engine, the integration sinks and the CLI.
//
// # Log Levels
//
//   - Debug: frame bodies, hex dumps, keepalive traffic, dispatcher misses
//   - Info: connection events, handshake steps, capability results, door events
//   - Warn: decode fallbacks, dropped messages, unknown events
//   - Error: session failures, rejected commands
//
// # Configuration
//
// Initialize logging once at startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// An empty level falls back to VTO_BRIDGE_LOG_LEVEL. When both are empty the
// logger is a no-op, which is also what tests get by default.
//
// # Frame Logging
//
//	logging.LogFrame(remoteAddr, "sent", body)
//	logging.LogRawBytes("Undecodable fragment", data)
//
// Both are no-ops unless debug is enabled.
package logging
