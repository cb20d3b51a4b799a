package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/charchat/internal/auth"
	"github.com/rickgao/charchat/internal/chat"
	"github.com/rickgao/charchat/internal/connection"
	"github.com/rickgao/charchat/internal/conversation"
	"github.com/rickgao/charchat/internal/model"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the supervisor metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithCorrelatorMetrics sets the metrics sink passed to every correlator.
func WithCorrelatorMetrics(m connection.Metrics) Option {
	return func(s *Session) {
		s.corrMetrics = m
	}
}

// WithClientFactory replaces how socket channels are created.
func WithClientFactory(f ClientFactory) Option {
	return func(s *Session) {
		if f != nil {
			s.newClient = f
		}
	}
}

// WithRecorder sets where conversations opened by the session record turns.
func WithRecorder(r chat.Recorder) Option {
	return func(s *Session) {
		s.recorder = r
	}
}

// WithResurrectHook sets a callback run after each background refresh.
func WithResurrectHook(h ResurrectHook) Option {
	return func(s *Session) {
		s.onResurrect = h
	}
}

// Session is an authenticated client of the chat service.
type Session struct {
	cfg         Config
	api         API
	logger      *slog.Logger
	metrics     Metrics
	corrMetrics connection.Metrics
	newClient   ClientFactory
	recorder    chat.Recorder
	onResurrect ResurrectHook
	registry    *conversation.Registry

	automaticReconnect atomic.Bool
	reconnects         singleflight.Group

	// lifecycle serialises Authenticate and Unauthenticate.
	lifecycle sync.Mutex

	mu            sync.RWMutex
	state         State
	authenticated bool
	token         string
	profile       model.Profile
	dm            *connection.Correlator
	group         *connection.Correlator
	generation    uint64 // bumped whenever the channel pair is replaced or dropped
	bg            context.Context
	cancel        context.CancelFunc

	wg sync.WaitGroup
}

// New creates an unauthenticated session.
func New(cfg Config, api API, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg,
		api:       api,
		logger:    slog.Default(),
		metrics:   nopMetrics{},
		newClient: connection.NewClient,
		registry:  conversation.NewRegistry(),
		state:     StateDisconnected,
	}

	for _, opt := range opts {
		opt(s)
	}
	s.automaticReconnect.Store(cfg.AutomaticReconnect)

	return s
}

// Authenticate validates token, loads the user's profile and opens both
// channels. A leading "Token " prefix is stripped.
func (s *Session) Authenticate(ctx context.Context, token string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.Authenticated() {
		return ErrAlreadyAuthenticated
	}

	token = auth.NormalizeToken(token)
	if token == "" {
		return fmt.Errorf("%w: %w", ErrInvalidToken, auth.ErrEmptyToken)
	}

	s.api.SetToken(token)

	if err := s.api.ValidateToken(ctx); err != nil {
		s.api.SetToken("")
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	profile, err := s.api.FetchProfile(ctx)
	if err != nil {
		s.api.SetToken("")
		return fmt.Errorf("refresh profile: %w", err)
	}

	bg, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.authenticated = true
	s.token = token
	s.profile = profile
	s.bg = bg
	s.cancel = cancel
	s.mu.Unlock()

	s.setState(StateConnecting)
	if err := s.openChannels(ctx); err != nil {
		s.teardown()
		return err
	}

	s.logger.Info("authenticated",
		"user_id", profile.UserID,
		"username", profile.Username,
	)
	return nil
}

// Unauthenticate closes both channels and forgets the token and the
// active conversations.
func (s *Session) Unauthenticate() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.Authenticated() {
		return ErrNotAuthenticated
	}

	s.teardown()
	s.logger.Info("unauthenticated")
	return nil
}

// Close unauthenticates if needed. It is safe to call more than once.
func (s *Session) Close() error {
	if err := s.Unauthenticate(); err != nil && !errors.Is(err, ErrNotAuthenticated) {
		return err
	}
	return nil
}

// teardown drops all authenticated state and waits for background work.
func (s *Session) teardown() {
	s.mu.Lock()
	dm, group := s.dm, s.group
	cancel := s.cancel
	s.authenticated = false
	s.token = ""
	s.profile = model.Profile{}
	s.dm, s.group = nil, nil
	s.generation++
	s.cancel = nil
	s.mu.Unlock()

	s.setState(StateDisconnected)
	s.api.SetToken("")

	if cancel != nil {
		cancel()
	}
	closeCorrelators(dm, group)

	s.wg.Wait()
	s.registry.Reset()
}

// Authenticated reports whether the session holds a validated token.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Profile returns the authenticated user's profile.
func (s *Session) Profile() model.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// State returns the channel lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	changed := s.setStateLocked(state)
	s.mu.Unlock()

	if changed {
		s.metrics.StateChanged(state)
	}
}

func (s *Session) setStateLocked(state State) bool {
	changed := s.state != state
	s.state = state
	return changed
}

// SetAutomaticReconnect enables or disables re-opening lost channels.
func (s *Session) SetAutomaticReconnect(enabled bool) {
	s.automaticReconnect.Store(enabled)
}

// AutomaticReconnect reports whether lost channels are re-opened.
func (s *Session) AutomaticReconnect() bool {
	return s.automaticReconnect.Load()
}

// Registry returns the active-conversation registry.
func (s *Session) Registry() *conversation.Registry {
	return s.registry
}

// credentials returns the identity used on channel handshakes.
func (s *Session) credentials() auth.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return auth.Credentials{Token: s.token, UserID: s.profile.UserID}
}

// requireAuth fails with ErrNotAuthenticated outside a session.
func (s *Session) requireAuth() error {
	if !s.Authenticated() {
		return ErrNotAuthenticated
	}
	return nil
}

func closeCorrelators(corrs ...*connection.Correlator) {
	for _, c := range corrs {
		if c != nil {
			c.Close()
		}
	}
}
