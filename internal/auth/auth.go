// Package auth normalises session tokens and builds the headers the chat
// service expects on REST requests and WebSocket handshakes.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// TokenPrefix is the scheme the service uses in the Authorization header.
// Tokens copied out of a browser often still carry it.
const TokenPrefix = "Token "

// ErrEmptyToken is returned when a token is blank after normalisation.
var ErrEmptyToken = errors.New("session token is empty")

// Credentials identify an authenticated user.
type Credentials struct {
	Token  string // Session token without the "Token " prefix
	UserID int64  // Numeric user ID from the profile endpoint
}

// NormalizeToken trims whitespace and strips a leading "Token " prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimLeftFunc(raw, unicode.IsSpace)
	token = strings.TrimPrefix(token, TokenPrefix)
	return strings.TrimSpace(token)
}

// LoadToken reads a session token from a file.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := NormalizeToken(string(data))
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

// Authorization returns the Authorization header value for a token.
func Authorization(token string) string {
	return TokenPrefix + token
}

// Valid reports whether the credentials can be used to open channels.
func (c Credentials) Valid() bool {
	return c.Token != ""
}

// HTTPHeader returns headers for an authorized REST request.
func (c Credentials) HTTPHeader() http.Header {
	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", Authorization(c.Token))
	}
	return header
}

// WebSocketHeader returns handshake headers for a chat channel. The service
// routes sockets by the edge_rollout cookie and reads the token from the
// HTTP_AUTHORIZATION cookie rather than the Authorization header.
func (c Credentials) WebSocketHeader(edgeRollout string) http.Header {
	header := http.Header{}
	cookies := []string{fmt.Sprintf("HTTP_AUTHORIZATION=%q", Authorization(c.Token))}
	if edgeRollout != "" {
		cookies = append(cookies, "edge_rollout="+edgeRollout)
	}
	header.Set("Cookie", strings.Join(cookies, "; "))
	if c.UserID != 0 {
		header.Set("X-User-Id", strconv.FormatInt(c.UserID, 10))
	}
	return header
}
