package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/charchat/internal/version"
)

// Client represents a single persistent WebSocket channel to the chat service.
type Client interface {
	// Connect establishes the WebSocket connection. When requireHandshakeAck
	// is true it also waits for the server to acknowledge the connect frame.
	Connect(ctx context.Context, requireHandshakeAck bool) error

	// Close gracefully closes the connection.
	Close() error

	// ForceDisconnect simulates a connection failure: the channel is torn
	// down and EventDisconnected carries ErrForcedDisconnect.
	ForceDisconnect() error

	// Send writes raw bytes to the connection. It fails immediately with
	// ErrNotConnected unless the channel is open.
	Send(data []byte) error

	// Messages returns inbound frames in arrival order.
	Messages() <-chan TimestampedMessage

	// Events returns lifecycle events. At most one EventConnected and one
	// EventDisconnected are ever sent, so the channel never blocks the client.
	Events() <-chan Event

	// IsConnected returns true while the channel is open.
	IsConnected() bool

	// State returns the current lifecycle state.
	State() State

	// Kind returns which chat channel this client serves.
	Kind() Kind
}

// ErrForcedDisconnect is the disconnect cause reported after ForceDisconnect.
var ErrForcedDisconnect = errors.New("forced disconnect")

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan TimestampedMessage
	events   chan Event
	done     chan struct{} // Closed by Close/ForceDisconnect
	readDone chan struct{} // Closed when readLoop exits

	// Connect handshake (group chat)
	awaitingAck atomic.Bool
	ack         chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	state      State
	opened     bool // Connect completed; a later loss emits EventDisconnected
	closed     bool
	lastPingAt time.Time
	lostOnce   sync.Once
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		events:   make(chan Event, 2),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
		ack:      make(chan struct{}),
		state:    StateClosed,
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context, requireHandshakeAck bool) error {
	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.state = StateConnecting
	c.mu.Unlock()

	header := c.cfg.Credentials.WebSocketHeader(c.cfg.EdgeRollout)
	header.Set("User-Agent", version.UserAgent())

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		c.setState(StateClosed)
		return &ConnectionError{Channel: c.cfg.Kind, Op: "dial", Err: err}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return &ConnectionError{Channel: c.cfg.Kind, Op: "dial", Err: ErrAlreadyClosed}
	}
	c.conn = conn
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	// Set up ping handler - server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Set up pong handler - server responds to our ping
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	c.awaitingAck.Store(requireHandshakeAck)
	go c.readLoop()

	if requireHandshakeAck {
		if err := c.handshake(ctx); err != nil {
			c.Close()
			return &ConnectionError{Channel: c.cfg.Kind, Op: "handshake", Err: err}
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &ConnectionError{Channel: c.cfg.Kind, Op: "dial", Err: ErrAlreadyClosed}
	}
	c.state = StateOpen
	c.opened = true
	// Sent under mu so a concurrent loss is always reported after it.
	c.events <- Event{Kind: EventConnected}
	c.mu.Unlock()

	go c.heartbeatLoop()

	c.logger.Debug("websocket connected",
		"url", c.cfg.URL,
		"handshake_ack", requireHandshakeAck,
	)

	return nil
}

// handshake sends the connect frame and waits for its acknowledgment.
func (c *client) handshake(ctx context.Context) error {
	if err := c.write(handshakeFrame); err != nil {
		return err
	}

	timer := time.NewTimer(c.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-c.ack:
		return nil
	case <-c.readDone:
		return ErrNotConnected
	case <-timer.C:
		return ErrHandshakeTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	conn, wasOpen, ok := c.markClosed()
	if !ok {
		return nil
	}

	var err error
	if conn != nil {
		// Send close message
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = conn.Close()
	}

	if wasOpen {
		c.emitDisconnected(nil)
	}
	return err
}

// ForceDisconnect tears the connection down without a close handshake and
// reports it as an abnormal loss.
func (c *client) ForceDisconnect() error {
	conn, wasOpen, ok := c.markClosed()
	if !ok {
		return nil
	}

	if wasOpen {
		c.emitDisconnected(ErrForcedDisconnect)
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// markClosed flips the client to closed and stops its goroutines. ok is
// false when the client was already closed.
func (c *client) markClosed() (conn *websocket.Conn, wasOpen bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false, false
	}
	c.closed = true
	c.state = StateClosed

	// Signal goroutines to stop
	close(c.done)

	return c.conn, c.opened, true
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if c.state != StateOpen {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	return c.write(data)
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Events returns the lifecycle events channel.
func (c *client) Events() <-chan Event {
	return c.events
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	return c.State() == StateOpen
}

// State returns the current lifecycle state.
func (c *client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Kind returns the channel kind.
func (c *client) Kind() Kind {
	return c.cfg.Kind
}

func (c *client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

// lost records an abnormal connection loss.
func (c *client) lost(err error) {
	c.mu.Lock()
	wasOpen := c.opened
	c.state = StateClosed
	c.mu.Unlock()

	if wasOpen {
		c.emitDisconnected(err)
	}
}

func (c *client) emitDisconnected(err error) {
	c.lostOnce.Do(func() {
		if err != nil {
			c.logger.Warn("websocket disconnected", "error", err)
		} else {
			c.logger.Debug("websocket closed")
		}
		c.events <- Event{Kind: EventDisconnected, Err: err}
	})
}

// readLoop reads messages from the WebSocket and sends them to the messages
// channel. Frames are never dropped: a pending command may be waiting on any
// of them.
func (c *client) readLoop() {
	defer close(c.readDone)

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
			default:
				c.lost(err)
			}
			return
		}

		if isHeartbeat(data) {
			c.touch()
			if err := c.write(heartbeatFrame); err != nil {
				c.logger.Debug("failed to answer heartbeat", "error", err)
			}
			continue
		}

		if c.awaitingAck.Load() && isHandshakeAck(data) {
			c.awaitingAck.Store(false)
			close(c.ack)
			continue
		}

		msg := TimestampedMessage{
			Data:       data,
			ReceivedAt: receivedAt,
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop pings the server and disconnects stale connections.
func (c *client) heartbeatLoop() {
	interval := c.cfg.PingTimeout / 4
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			// Check for stale connection (no pong/ping response)
			c.mu.RLock()
			lastPing := c.lastPingAt
			c.mu.RUnlock()

			if time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				c.lost(ErrStaleConnection)
				c.conn.Close()
				return
			}
		}
	}
}
