package gateway

import (
	"context"
	"net/http"

	"github.com/gravitational/trace"

	"github.com/holdwallet/gateway/gateway/credentials"
	"github.com/holdwallet/gateway/lib/logger"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ServerStatus is the backend health report.
type ServerStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Login authenticates against the backend and persists the credential to
// every storage tier, then records the grace-period marker.
//
// Login deliberately bypasses the 401 recovery path: a rejected password must
// surface as-is, not trigger a refresh attempt.
func (c *Client) Login(ctx context.Context, email, password string) (*credentials.Credential, error) {
	var result authResponse
	if err := c.execute(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &result); err != nil {
		if _, ok := GetAPIError(err); ok {
			return nil, trace.Wrap(err)
		}
		return nil, c.classifyTransportError(ctx, err)
	}
	if !credentials.Plausible(result.AccessToken) {
		return nil, trace.BadParameter("login endpoint returned an implausible token")
	}

	cred := &credentials.Credential{
		Token:    result.AccessToken,
		User:     result.User,
		IssuedAt: c.conf.Clock.Now().UTC(),
	}
	if err := c.resolver.Store(ctx, cred); err != nil {
		return nil, trace.Wrap(err)
	}
	if c.grace != nil {
		if err := c.grace.MarkLogin(ctx); err != nil {
			logger.Get(ctx).WithError(err).Warn("Failed to record the login marker")
		}
	}
	return cred, nil
}

// Logout notifies the backend on a best-effort basis and wipes the
// credential from every storage tier regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	log := logger.Get(ctx)

	if err := c.execute(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		log.WithError(err).Warn("Best-effort logout request failed")
	}

	var errs []error
	errs = append(errs, c.resolver.Clear(ctx))
	if c.grace != nil {
		errs = append(errs, c.grace.ClearLoginMark(ctx))
	}
	return trace.NewAggregate(errs...)
}

// CurrentUser fetches the authenticated user's profile.
func (c *Client) CurrentUser(ctx context.Context) (*credentials.UserProfile, error) {
	var user credentials.UserProfile
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &user); err != nil {
		return nil, trace.Wrap(err)
	}
	return &user, nil
}

// Health fetches the backend health report. It runs unauthenticated and with
// no recovery behavior.
func (c *Client) Health(ctx context.Context) (*ServerStatus, error) {
	var status ServerStatus
	if err := c.execute(ctx, http.MethodGet, "/health", nil, &status); err != nil {
		if _, ok := GetAPIError(err); ok {
			return nil, trace.Wrap(err)
		}
		return nil, c.classifyTransportError(ctx, err)
	}
	return &status, nil
}
