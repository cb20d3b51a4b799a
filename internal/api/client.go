package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Default service hosts.
const (
	DefaultWebURL  = "https://character.ai"
	DefaultPlusURL = "https://plus.character.ai"
	DefaultNeoURL  = "https://neo.character.ai"
)

// Endpoints holds the base URL of each service host.
type Endpoints struct {
	Web  string
	Plus string
	Neo  string
}

// DefaultEndpoints returns the production hosts.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Web:  DefaultWebURL,
		Plus: DefaultPlusURL,
		Neo:  DefaultNeoURL,
	}
}

// Client provides access to the chat service REST API.
type Client struct {
	endpoints  Endpoints
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string

	mu    sync.RWMutex
	token string

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(endpoints Endpoints, opts ...ClientOption) *Client {
	c := &Client{
		endpoints: endpoints,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// SetToken sets the session token used for authorized requests. An empty
// token clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Endpoints returns the configured hosts.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}
