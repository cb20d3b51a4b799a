// Package session owns an authenticated connection to the chat service.
//
// A Session validates the token, loads the user's profile and opens the
// two socket channels: group chat (which requires a connect handshake) and
// DM. Commands are sent through a per-channel connection.Correlator.
//
// When either channel is lost the session re-opens both, provided automatic
// reconnect is enabled and the session is still authenticated. Concurrent
// loss notifications collapse into one reconnect cycle, and notifications
// from channels that have already been replaced are ignored. After every
// successful open the conversations marked active are refreshed in the
// background; commands may be issued before that finishes.
package session
