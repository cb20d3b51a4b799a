package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	for _, u := range []struct{ name, raw string }{
		{"api.web_url", c.API.WebURL},
		{"api.plus_url", c.API.PlusURL},
		{"api.neo_url", c.API.NeoURL},
	} {
		if err := validateURL(u.name, u.raw, "http", "https"); err != nil {
			return err
		}
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if err := validateURL("connections.dm_url", c.Connections.DMURL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("connections.group_chat_url", c.Connections.GroupChatURL, "ws", "wss"); err != nil {
		return err
	}
	if c.Connections.ReconnectAttempts < 1 {
		return errors.New("connections.reconnect_attempts must be >= 1")
	}
	if c.Connections.ReconnectMaxDelay < c.Connections.ReconnectBaseDelay {
		return fmt.Errorf("connections.reconnect_max_delay (%v) cannot be less than reconnect_base_delay (%v)",
			c.Connections.ReconnectMaxDelay, c.Connections.ReconnectBaseDelay)
	}
	if c.Connections.PingTimeout <= 0 {
		return errors.New("connections.ping_timeout must be > 0")
	}
	if c.Connections.BufferSize < 1 {
		return errors.New("connections.buffer_size must be >= 1")
	}
	if c.Connections.ResurrectConcurrency < 1 {
		return errors.New("connections.resurrect_concurrency must be >= 1")
	}

	if c.Archive.Enabled {
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

func validateURL(name, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use scheme %s, got %q", name, strings.Join(schemes, " or "), u.Scheme)
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// ParseLevel maps a log level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("log.level: unknown level %q", level)
	}
	return l, nil
}
