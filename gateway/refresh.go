package gateway

import (
	"context"
	"net/http"

	"github.com/gravitational/trace"

	"github.com/holdwallet/gateway/gateway/credentials"
	"github.com/holdwallet/gateway/lib/logger"
)

type refreshRequest struct {
	Token string `json:"token"`
}

type authResponse struct {
	AccessToken string                  `json:"access_token"`
	User        credentials.UserProfile `json:"user"`
}

// refreshToken exchanges the current token for a fresh one. Concurrent 401s
// from parallel requests collapse into a single refresh call; every pending
// request awaits its result.
func (c *Client) refreshToken(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("token-refresh", func() (interface{}, error) {
		token := c.resolver.Token(ctx)
		if token == "" {
			return nil, trace.NotFound("no token to refresh")
		}

		var result authResponse
		if err := c.execute(ctx, http.MethodPost, "/auth/refresh", refreshRequest{Token: token}, &result); err != nil {
			return nil, trace.Wrap(err)
		}
		if !credentials.Plausible(result.AccessToken) {
			return nil, trace.BadParameter("refresh endpoint returned an implausible token")
		}

		if err := c.resolver.UpdateToken(ctx, result.AccessToken); err != nil {
			return nil, trace.Wrap(err)
		}
		logger.Get(ctx).Debug("Access token refreshed")
		return nil, nil
	})
	return trace.Wrap(err)
}
