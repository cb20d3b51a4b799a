package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rickgao/charchat/internal/model"
)

// ErrNoEdgeRollout is returned when the web host fails and sets no routing
// cookie.
var ErrNoEdgeRollout = errors.New("could not get edge rollout")

// FetchEdgeRollout reads the edge_rollout routing cookie from the web host.
// It returns DefaultEdgeRollout when the host answers 2xx without the
// cookie. Transport failures are returned as is and are not retried.
func (c *Client) FetchEdgeRollout(ctx context.Context) (string, error) {
	resp, _, err := c.send(ctx, request{
		method: http.MethodGet,
		url:    c.endpoints.Web + "/",
	})
	if err != nil {
		return "", fmt.Errorf("fetch edge rollout: %w", err)
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == edgeRolloutCookie && cookie.Value != "" {
			return cookie.Value, nil
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrNoEdgeRollout, resp.StatusCode)
	}

	c.logger.Debug("no edge rollout cookie, using fallback", "edge_rollout", DefaultEdgeRollout)
	return DefaultEdgeRollout, nil
}

// ValidateToken checks the current token against the account settings
// endpoint.
func (c *Client) ValidateToken(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, c.endpoints.Plus+"/chat/user/settings/", nil, nil); err != nil {
		return fmt.Errorf("validate token: %w", err)
	}
	return nil
}

// FetchProfile fetches the authenticated user's profile.
func (c *Client) FetchProfile(ctx context.Context) (model.Profile, error) {
	var resp ProfileResponse
	if err := c.do(ctx, http.MethodGet, c.endpoints.Plus+"/chat/user/", nil, &resp); err != nil {
		return model.Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	return resp.Profile(), nil
}
