package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Command outcomes reported to Metrics.
const (
	OutcomeOK           = "ok"
	OutcomeError        = "error"
	OutcomeTimeout      = "timeout"
	OutcomeLost         = "lost"
	OutcomeCanceled     = "canceled"
	OutcomeNotConnected = "not_connected"
)

// Frame drop reasons reported to Metrics.
const (
	DropMalformed    = "malformed"
	DropUncorrelated = "uncorrelated"
	DropUnmatched    = "unmatched"
)

// DefaultCommandTimeout bounds how long a command waits for its reply.
const DefaultCommandTimeout = 2 * time.Minute

// Metrics receives correlator instrumentation. Implementations must be safe
// for concurrent use.
type Metrics interface {
	CommandStarted(kind Kind)
	CommandFinished(kind Kind, outcome string, elapsed time.Duration)
	StreamFrame(kind Kind)
	FrameDropped(kind Kind, reason string)
}

type nopMetrics struct{}

func (nopMetrics) CommandStarted(Kind)                         {}
func (nopMetrics) CommandFinished(Kind, string, time.Duration) {}
func (nopMetrics) StreamFrame(Kind)                            {}
func (nopMetrics) FrameDropped(Kind, string)                   {}

// CorrelatorOption configures a Correlator.
type CorrelatorOption func(*Correlator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CorrelatorOption {
	return func(c *Correlator) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) CorrelatorOption {
	return func(c *Correlator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithDefaultTimeout sets the timeout for commands that do not set their
// own. Zero disables it.
func WithDefaultTimeout(d time.Duration) CorrelatorOption {
	return func(c *Correlator) {
		c.defaultTimeout = d
	}
}

// pendingRequest is one in-flight command. It is completed exactly once,
// by whichever of reply, disconnect, timeout or cancellation comes first.
type pendingRequest struct {
	id   string
	cmd  Command
	once sync.Once
	done chan struct{}
	resp Response
	err  error
}

func (p *pendingRequest) complete(resp Response, err error) {
	p.once.Do(func() {
		p.resp = resp
		p.err = err
		close(p.done)
	})
}

func (p *pendingRequest) completed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Correlator multiplexes commands over one Client and matches replies by
// request_id. A Correlator lives exactly as long as its Client: once the
// channel is lost it rejects all pending and future commands.
type Correlator struct {
	client         Client
	logger         *slog.Logger
	metrics        Metrics
	defaultTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
	lostErr error

	done chan struct{}
}

// NewCorrelator wraps a connected client and starts dispatching its frames.
func NewCorrelator(client Client, opts ...CorrelatorOption) *Correlator {
	c := &Correlator{
		client:         client,
		logger:         slog.Default(),
		metrics:        nopMetrics{},
		defaultTimeout: DefaultCommandTimeout,
		pending:        make(map[string]*pendingRequest),
		done:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("channel", client.Kind())

	go c.dispatch()

	return c
}

// Kind returns the channel kind of the underlying client.
func (c *Correlator) Kind() Kind {
	return c.client.Kind()
}

// Done is closed once the channel is lost and all pending commands have
// been rejected.
func (c *Correlator) Done() <-chan struct{} {
	return c.done
}

// Err returns the disconnect cause after Done is closed.
func (c *Correlator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lostErr
}

// Pending returns the number of commands awaiting a reply.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// IsConnected reports whether commands can currently be sent.
func (c *Correlator) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.client.IsConnected()
}

// Close closes the underlying client; pending commands fail with
// ErrConnectionLost.
func (c *Correlator) Close() error {
	return c.client.Close()
}

// Send transmits a command and blocks until its reply arrives, the channel
// is lost, the timeout elapses or ctx is done.
func (c *Correlator) Send(ctx context.Context, cmd Command) (Response, error) {
	p := &pendingRequest{
		id:   uuid.NewString(),
		cmd:  cmd,
		done: make(chan struct{}),
	}

	// Register before transmitting so a fast reply cannot be missed.
	c.mu.Lock()
	if c.closed || !c.client.IsConnected() {
		c.mu.Unlock()
		return Response{}, ErrNotConnected
	}
	c.pending[p.id] = p
	c.mu.Unlock()

	data, err := json.Marshal(Frame{
		Command:   cmd.Command,
		OriginID:  cmd.OriginID,
		Payload:   cmd.Payload,
		RequestID: p.id,
	})
	if err != nil {
		c.forget(p.id)
		return Response{}, fmt.Errorf("marshal command: %w", err)
	}

	start := time.Now()
	c.metrics.CommandStarted(c.Kind())

	if err := c.client.Send(data); err != nil {
		c.forget(p.id)
		c.metrics.CommandFinished(c.Kind(), OutcomeNotConnected, time.Since(start))
		if errors.Is(err, ErrNotConnected) {
			return Response{}, err
		}
		return Response{}, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = c.defaultTimeout
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-p.done:
	case <-expired:
		c.forget(p.id)
		p.complete(Response{}, ErrTimeout)
	case <-ctx.Done():
		c.forget(p.id)
		p.complete(Response{}, ctx.Err())
	}

	c.metrics.CommandFinished(c.Kind(), outcome(p.err), time.Since(start))

	if p.err != nil {
		c.logger.Debug("command failed",
			"command", cmd.Command,
			"request_id", p.id,
			"error", p.err,
		)
	}

	return p.resp, p.err
}

func (c *Correlator) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// dispatch routes inbound frames in arrival order until the channel is lost.
func (c *Correlator) dispatch() {
	defer close(c.done)

	for {
		select {
		case msg := <-c.client.Messages():
			c.handleFrame(msg.Data)

		case ev := <-c.client.Events():
			if ev.Kind != EventDisconnected {
				continue
			}
			c.drain()
			c.failAll(ev.Err)
			return
		}
	}
}

// drain handles frames that were already buffered when the channel dropped.
func (c *Correlator) drain() {
	for {
		select {
		case msg := <-c.client.Messages():
			c.handleFrame(msg.Data)
		default:
			return
		}
	}
}

func (c *Correlator) handleFrame(data []byte) {
	resp, err := DecodeResponse(data)
	if err != nil {
		c.metrics.FrameDropped(c.Kind(), DropMalformed)
		c.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
		return
	}

	if resp.RequestID == "" {
		c.metrics.FrameDropped(c.Kind(), DropUncorrelated)
		return
	}

	c.mu.Lock()
	p, ok := c.pending[resp.RequestID]
	c.mu.Unlock()

	if !ok {
		c.metrics.FrameDropped(c.Kind(), DropUnmatched)
		c.logger.Debug("no pending request for frame",
			"command", resp.Command,
			"request_id", resp.RequestID,
		)
		return
	}

	switch {
	case isErrorCommand(resp.Command):
		c.resolve(p, Response{}, &CommandError{
			Command:   p.cmd.Command,
			RequestID: p.id,
			Payload:   resp.Payload,
		})

	case p.cmd.ExpectedReturn == "" || resp.Command == p.cmd.ExpectedReturn:
		if !p.cmd.WaitForFinal || resp.Final {
			c.resolve(p, resp, nil)
			return
		}
		c.stream(p, resp)

	default:
		c.stream(p, resp)
	}
}

func (c *Correlator) stream(p *pendingRequest, resp Response) {
	if !p.cmd.Streaming || p.cmd.Sink == nil || p.completed() {
		return
	}
	c.metrics.StreamFrame(c.Kind())
	p.cmd.Sink(resp)
}

func (c *Correlator) resolve(p *pendingRequest, resp Response, err error) {
	c.forget(p.id)
	p.complete(resp, err)
}

// failAll rejects every pending command and refuses new ones.
func (c *Correlator) failAll(cause error) {
	c.mu.Lock()
	c.closed = true
	c.lostErr = cause
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	err := ErrConnectionLost
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrConnectionLost, cause)
	}

	for _, p := range pending {
		p.complete(Response{}, err)
	}

	if len(pending) > 0 {
		c.logger.Warn("channel lost with pending commands", "pending", len(pending))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrConnectionLost):
		return OutcomeLost
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}
