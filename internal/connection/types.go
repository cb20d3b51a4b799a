package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/charchat/internal/auth"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrConnectionLost   = errors.New("connection lost while request pending")
	ErrTimeout          = errors.New("operation timeout")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrStaleConnection  = errors.New("connection stale (no ping)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrHandshakeTimeout = errors.New("handshake not acknowledged")
)

// ConnectionError is returned when a channel cannot be opened.
type ConnectionError struct {
	Channel Kind
	Op      string // "metadata", "dial" or "handshake"
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("open channels: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("open %s channel: %s: %v", e.Channel, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CommandError is a server-side error reply to a command.
type CommandError struct {
	Command   string
	RequestID string
	Payload   json.RawMessage
}

func (e *CommandError) Error() string {
	if len(e.Payload) == 0 {
		return fmt.Sprintf("command %s failed", e.RequestID)
	}
	return fmt.Sprintf("command %s failed: %s", e.RequestID, e.Payload)
}

// Kind identifies which of the two chat channels a connection serves.
type Kind string

const (
	KindDM        Kind = "dm"
	KindGroupChat Kind = "group_chat"
)

// State is the lifecycle state of a single channel.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventKind distinguishes lifecycle events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
)

// Event is a channel lifecycle notification.
type Event struct {
	Kind EventKind
	Err  error // Cause of a disconnect; nil after an explicit Close
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Frame is an outbound command frame.
type Frame struct {
	Command   string `json:"command"`
	OriginID  string `json:"origin_id"`
	Payload   any    `json:"payload"`
	RequestID string `json:"request_id"`
}

// Command describes one request sent through a Correlator.
type Command struct {
	Command        string // Command tag, e.g. "create_and_generate_turn"
	OriginID       string // Caller-supplied origin context
	Payload        any
	ExpectedReturn string // Command tag of the reply that completes the request ("" = any)

	// Streaming forwards intermediate replies to Sink. WaitForFinal holds
	// resolution until a reply is marked final.
	Streaming    bool
	WaitForFinal bool
	Sink         func(Response)

	Timeout time.Duration // 0 = correlator default
}

// Response is a decoded inbound frame.
type Response struct {
	Command   string
	RequestID string
	OriginID  string
	Payload   json.RawMessage
	Turn      json.RawMessage
	Final     bool
	Raw       json.RawMessage
}

// ClientConfig configures a single channel.
type ClientConfig struct {
	URL              string           // WebSocket URL
	Kind             Kind             // Which channel this is
	Credentials      auth.Credentials // Token and user ID for the handshake
	EdgeRollout      string           // Routing token fetched before every open
	PingTimeout      time.Duration    // Max time without ping before considering connection stale
	WriteTimeout     time.Duration    // Write deadline for sends
	HandshakeTimeout time.Duration    // Dial and connect-acknowledgment timeout
	BufferSize       int              // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       1000,
	}
}
