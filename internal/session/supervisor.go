package session

import (
	"context"
	"errors"
	"time"

	"github.com/rickgao/charchat/internal/api"
	"github.com/rickgao/charchat/internal/auth"
	"github.com/rickgao/charchat/internal/connection"
	"github.com/rickgao/charchat/internal/conversation"
)

// openChannels fetches the routing token and opens the group chat channel
// (with handshake) and then the DM channel. On success the new pair
// replaces the old one, which is closed, and active conversations are
// refreshed in the background.
func (s *Session) openChannels(ctx context.Context) error {
	edgeRollout, err := s.api.FetchEdgeRollout(ctx)
	if err != nil {
		return &connection.ConnectionError{Op: "metadata", Err: err}
	}
	if edgeRollout == "" {
		edgeRollout = api.DefaultEdgeRollout
	}

	creds := s.credentials()

	group := s.newClient(s.clientConfig(connection.KindGroupChat, s.cfg.GroupChatURL, creds, edgeRollout),
		s.logger.With("channel", connection.KindGroupChat))
	if err := group.Connect(ctx, true); err != nil {
		return err
	}

	dm := s.newClient(s.clientConfig(connection.KindDM, s.cfg.DMURL, creds, edgeRollout),
		s.logger.With("channel", connection.KindDM))
	if err := dm.Connect(ctx, false); err != nil {
		group.Close()
		return err
	}

	groupCorr := s.newCorrelator(group)
	dmCorr := s.newCorrelator(dm)

	s.mu.Lock()
	if !s.authenticated {
		s.mu.Unlock()
		closeCorrelators(groupCorr, dmCorr)
		return ErrNotAuthenticated
	}
	oldDM, oldGroup := s.dm, s.group
	s.dm, s.group = dmCorr, groupCorr
	s.generation++
	gen := s.generation
	bg := s.bg
	changed := s.setStateLocked(StateOpen)
	s.mu.Unlock()

	if changed {
		s.metrics.StateChanged(StateOpen)
	}

	// The old pair belongs to an earlier generation, so its loss is ignored.
	closeCorrelators(oldDM, oldGroup)

	s.watch(bg, gen, dmCorr)
	s.watch(bg, gen, groupCorr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.resurrect(bg)
	}()

	s.logger.Info("channels open", "edge_rollout", edgeRollout, "generation", gen)
	return nil
}

func (s *Session) clientConfig(kind connection.Kind, url string, creds auth.Credentials, edgeRollout string) connection.ClientConfig {
	cfg := connection.DefaultClientConfig()
	cfg.URL = url
	cfg.Kind = kind
	cfg.Credentials = creds
	cfg.EdgeRollout = edgeRollout
	if s.cfg.PingTimeout > 0 {
		cfg.PingTimeout = s.cfg.PingTimeout
	}
	if s.cfg.WriteTimeout > 0 {
		cfg.WriteTimeout = s.cfg.WriteTimeout
	}
	if s.cfg.HandshakeTimeout > 0 {
		cfg.HandshakeTimeout = s.cfg.HandshakeTimeout
	}
	if s.cfg.BufferSize > 0 {
		cfg.BufferSize = s.cfg.BufferSize
	}
	return cfg
}

func (s *Session) newCorrelator(client connection.Client) *connection.Correlator {
	opts := []connection.CorrelatorOption{
		connection.WithLogger(s.logger),
		connection.WithDefaultTimeout(s.cfg.CommandTimeout),
	}
	if s.corrMetrics != nil {
		opts = append(opts, connection.WithMetrics(s.corrMetrics))
	}
	return connection.NewCorrelator(client, opts...)
}

// watch waits for a channel of generation gen to be lost.
func (s *Session) watch(bg context.Context, gen uint64, corr *connection.Correlator) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-bg.Done():
			return
		case <-corr.Done():
		}

		s.handleDisconnect(bg, gen, corr)
	}()
}

func (s *Session) handleDisconnect(bg context.Context, gen uint64, corr *connection.Correlator) {
	// The generation check and the state change happen together so a loss
	// reported after the pair was replaced cannot mark the new pair down.
	s.mu.Lock()
	if gen != s.generation || !s.authenticated {
		s.mu.Unlock()
		return
	}
	changed := s.setStateLocked(StateDisconnected)
	s.mu.Unlock()
	if changed {
		s.metrics.StateChanged(StateDisconnected)
	}

	s.logger.Warn("channel lost", "channel", corr.Kind(), "error", corr.Err())

	if !s.AutomaticReconnect() {
		s.metrics.ReconnectFinished(ReconnectSkipped)
		return
	}

	if err := s.reconnect(bg, gen); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("reconnect failed", "error", err)
	}
}

// Reconnect replaces both channels now. It joins a reconnect already in
// progress instead of starting a second one.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.RLock()
	gen := s.generation
	authenticated := s.authenticated
	s.mu.RUnlock()

	if !authenticated {
		return ErrNotAuthenticated
	}
	return s.reconnect(ctx, gen)
}

// reconnect re-opens the channels unless generation gen has already been
// replaced. Concurrent callers share one cycle.
func (s *Session) reconnect(ctx context.Context, gen uint64) error {
	_, err, _ := s.reconnects.Do("reconnect", func() (any, error) {
		s.mu.RLock()
		current := s.generation
		authenticated := s.authenticated
		s.mu.RUnlock()

		if !authenticated {
			return nil, ErrNotAuthenticated
		}
		if current != gen {
			return nil, nil
		}
		return nil, s.reconnectWithBackoff(ctx)
	})
	return err
}

func (s *Session) reconnectWithBackoff(ctx context.Context) error {
	attempts := s.cfg.ReconnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	wait := s.cfg.ReconnectBaseDelay
	maxWait := s.cfg.ReconnectMaxDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			s.logger.Debug("waiting before reconnect", "attempt", attempt, "wait", wait)
			select {
			case <-ctx.Done():
				s.setState(StateDisconnected)
				s.metrics.ReconnectFinished(ReconnectFailed)
				return ctx.Err()
			case <-time.After(wait):
			}

			// Exponential backoff
			wait *= 2
			if maxWait > 0 && wait > maxWait {
				wait = maxWait
			}
		}

		s.setState(StateConnecting)
		if err = s.openChannels(ctx); err == nil {
			s.metrics.ReconnectFinished(ReconnectOK)
			s.logger.Info("reconnected", "attempt", attempt)
			return nil
		}

		s.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		if errors.Is(err, ErrNotAuthenticated) || ctx.Err() != nil {
			break
		}
	}

	s.setState(StateDisconnected)
	s.metrics.ReconnectFinished(ReconnectFailed)
	return err
}

// resurrect refreshes every active conversation and reports the outcome.
func (s *Session) resurrect(ctx context.Context) {
	convs := s.registry.All()

	result, err := conversation.Resurrect(ctx, convs, s.cfg.ResurrectConcurrency)
	s.metrics.ResurrectFinished(result.Total, result.Failed)

	if err != nil {
		s.logger.Warn("resurrect incomplete",
			"total", result.Total,
			"failed", result.Failed,
			"error", err,
		)
	} else if result.Total > 0 {
		s.logger.Debug("resurrected conversations", "total", result.Total)
	}

	if s.onResurrect != nil {
		s.onResurrect(result, err)
	}
}
