package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rickgao/charchat/internal/config"
	"github.com/rickgao/charchat/internal/connection"
	"github.com/rickgao/charchat/internal/conversation"
	"github.com/rickgao/charchat/internal/model"
)

// Errors
var (
	ErrNotAuthenticated     = errors.New("you must be authenticated to do this")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrInvalidToken         = errors.New("invalid authentication token")
)

// Reconnect outcomes reported to Metrics.
const (
	ReconnectOK      = "ok"
	ReconnectFailed  = "failed"
	ReconnectSkipped = "skipped"
)

// State is the lifecycle state of the session's channels.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// API is the subset of the REST client a session needs.
type API interface {
	SetToken(token string)
	ValidateToken(ctx context.Context) error
	FetchProfile(ctx context.Context) (model.Profile, error)
	FetchEdgeRollout(ctx context.Context) (string, error)
	FetchCharacter(ctx context.Context, characterID string) (model.Character, error)
	FetchLatestChat(ctx context.Context, characterID string) (model.Chat, error)
	FetchTurns(ctx context.Context, chatID, nextToken string) ([]model.Turn, string, error)
}

// Metrics receives supervisor instrumentation.
type Metrics interface {
	ReconnectFinished(outcome string)
	ResurrectFinished(total, failed int)
	StateChanged(state State)
}

type nopMetrics struct{}

func (nopMetrics) ReconnectFinished(string)   {}
func (nopMetrics) ResurrectFinished(int, int) {}
func (nopMetrics) StateChanged(State)         {}

// ClientFactory creates a socket channel. connection.NewClient satisfies it.
type ClientFactory func(cfg connection.ClientConfig, logger *slog.Logger) connection.Client

// ResurrectHook is called after each background refresh of active
// conversations.
type ResurrectHook func(result conversation.Result, err error)

// Config configures channels and reconnection.
type Config struct {
	DMURL                string
	GroupChatURL         string
	AutomaticReconnect   bool
	ReconnectAttempts    int           // Open attempts per lost channel
	ReconnectBaseDelay   time.Duration // Wait before the second attempt
	ReconnectMaxDelay    time.Duration // Cap on the doubling wait
	PingTimeout          time.Duration
	WriteTimeout         time.Duration
	HandshakeTimeout     time.Duration
	CommandTimeout       time.Duration // Default per-command timeout, 0 for none
	BufferSize           int
	ResurrectConcurrency int
}

// DefaultConfig returns the production channel settings.
func DefaultConfig() Config {
	return ConfigFrom(config.Default().Connections)
}

// ConfigFrom converts the file configuration.
func ConfigFrom(c config.ConnectionsConfig) Config {
	commandTimeout := c.CommandTimeout
	if commandTimeout < 0 {
		commandTimeout = 0
	}

	return Config{
		DMURL:                c.DMURL,
		GroupChatURL:         c.GroupChatURL,
		AutomaticReconnect:   c.Reconnect(),
		ReconnectAttempts:    c.ReconnectAttempts,
		ReconnectBaseDelay:   c.ReconnectBaseDelay,
		ReconnectMaxDelay:    c.ReconnectMaxDelay,
		PingTimeout:          c.PingTimeout,
		WriteTimeout:         c.WriteTimeout,
		HandshakeTimeout:     c.HandshakeTimeout,
		CommandTimeout:       commandTimeout,
		BufferSize:           c.BufferSize,
		ResurrectConcurrency: c.ResurrectConcurrency,
	}
}
