package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultWebURL               = "https://character.ai"
	DefaultPlusURL              = "https://plus.character.ai"
	DefaultNeoURL               = "https://neo.character.ai"
	DefaultDMURL                = "wss://neo.character.ai/ws/"
	DefaultGroupChatURL         = "wss://neo.character.ai/connection/websocket"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultReconnectAttempts    = 1
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultCommandTimeout       = 2 * time.Minute
	DefaultBufferSize           = 1000
	DefaultResurrectConcurrency = 8
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 100
	DefaultFlushInterval        = 1 * time.Second
	DefaultArchiveBufferSize    = 10000
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.WebURL == "" {
		c.API.WebURL = DefaultWebURL
	}
	if c.API.PlusURL == "" {
		c.API.PlusURL = DefaultPlusURL
	}
	if c.API.NeoURL == "" {
		c.API.NeoURL = DefaultNeoURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Connections defaults
	if c.Connections.DMURL == "" {
		c.Connections.DMURL = DefaultDMURL
	}
	if c.Connections.GroupChatURL == "" {
		c.Connections.GroupChatURL = DefaultGroupChatURL
	}
	if c.Connections.ReconnectAttempts == 0 {
		c.Connections.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.Connections.ReconnectBaseDelay == 0 {
		c.Connections.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connections.ReconnectMaxDelay == 0 {
		c.Connections.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connections.PingTimeout == 0 {
		c.Connections.PingTimeout = DefaultPingTimeout
	}
	if c.Connections.WriteTimeout == 0 {
		c.Connections.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connections.HandshakeTimeout == 0 {
		c.Connections.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connections.CommandTimeout == 0 {
		c.Connections.CommandTimeout = DefaultCommandTimeout
	}
	if c.Connections.BufferSize == 0 {
		c.Connections.BufferSize = DefaultBufferSize
	}
	if c.Connections.ResurrectConcurrency == 0 {
		c.Connections.ResurrectConcurrency = DefaultResurrectConcurrency
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultArchiveBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
