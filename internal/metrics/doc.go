// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Commands sent, their outcome and round-trip latency per channel
//   - Streamed and dropped inbound frames
//   - Channel state and reconnect cycles
//   - Active-conversation refreshes after reconnects
//   - Transcript archive throughput and overflow
package metrics
