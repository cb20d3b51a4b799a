package config

import "time"

// Config is the root configuration for a chat client.
type Config struct {
	API         APIConfig         `yaml:"api"`
	Auth        AuthConfig        `yaml:"auth"`
	Connections ConnectionsConfig `yaml:"connections"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// APIConfig holds REST host settings.
type APIConfig struct {
	WebURL     string        `yaml:"web_url"`
	PlusURL    string        `yaml:"plus_url"`
	NeoURL     string        `yaml:"neo_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// AuthConfig holds the session token. TokenFile is read when Token is empty.
type AuthConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

// ConnectionsConfig holds socket channel and reconnection settings.
type ConnectionsConfig struct {
	DMURL                string        `yaml:"dm_url"`
	GroupChatURL         string        `yaml:"group_chat_url"`
	AutomaticReconnect   *bool         `yaml:"automatic_reconnect"` // nil means enabled
	ReconnectAttempts    int           `yaml:"reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	CommandTimeout       time.Duration `yaml:"command_timeout"` // 0 keeps the default, negative disables
	BufferSize           int           `yaml:"buffer_size"`
	ResurrectConcurrency int           `yaml:"resurrect_concurrency"`
}

// Reconnect reports whether lost channels are re-opened automatically.
func (c ConnectionsConfig) Reconnect() bool {
	return c.AutomaticReconnect == nil || *c.AutomaticReconnect
}

// ArchiveConfig holds the optional transcript archive.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
