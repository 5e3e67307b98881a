// Package api implements the HTTP and WebSocket front end of the gateway.
//
// This package provides:
//   - the websocket endpoint, one session per connection
//   - a health endpoint and the Prometheus scrape endpoint
//   - static file serving for the bundled web client
//   - a middleware stack (request ID, logging, recovery, body limit)
//
// # Transport
//
// Each websocket connection is wrapped in a Transport owned by a read pump
// and a write pump. The session reads frames through Recv and writes them
// through Send; protocol pings keep idle connections alive and a missing
// pong ends the session.
//
// # Shutdown
//
// Close refuses new upgrades, closes every open transport and waits for
// the sessions to finish closing their features before shutting down the
// HTTP server.
package api
