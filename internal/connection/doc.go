// Package connection implements the two persistent chat channels and the
// command correlation layer that runs on top of them.
//
// A Client owns one WebSocket:
//   - DM channel: open as soon as the transport is connected
//   - Group chat channel: open only after the server acknowledges the
//     connect frame
//   - Emits EventConnected once per successful Connect and EventDisconnected
//     once per loss (read error, stale heartbeat, explicit Close)
//   - Never reconnects on its own; a lost Client is discarded and replaced
//
// A Correlator wraps a Client and multiplexes concurrent commands over it.
// Every command carries a fresh request_id; replies are matched by that id
// only, so replies may arrive in any order. When the channel is lost, every
// pending command fails with ErrConnectionLost at once.
package connection
