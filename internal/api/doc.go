// Package api implements the HTTP REST API and WebSocket server for the
// Free Sleep core.
//
// This package provides:
//   - REST endpoints for the cached snapshot, the derived view and history
//   - The command surface: POST /api/v1/commands/{kind} runs the gateway
//   - WebSocket streams of category changes, filtered per client
//   - Optional JWT bearer auth with ticket-based WebSocket auth
//   - Prometheus exposition of poll and command metrics
//
// # Architecture
//
// The API server sits between remote consumers and the coordinator. Reads
// are served from the cache and never wait on the pod. Commands go through
// the same gateway the MQTT bridge uses, so away-mode blocking, optimistic
// updates and the command log behave identically on both surfaces.
//
// # Security
//
// With security.jwt.secret empty the API is open, which suits a trusted
// home network. With a secret set every route except /health requires an
// HS256 bearer token, and WebSocket connections use single-use tickets so
// the token never appears in a URL.
//
// # Graceful Degradation
//
// Reads keep working while the pod is unreachable; the snapshot reports
// availability and per-category staleness. Commands fail with 503/504.
package api
