// Package gateway wraps all outbound HTTP calls to the HOLD Wallet backend
// with resilient authentication-token management: multi-source token
// resolution, bearer injection, transparent refresh on 401, and a
// grace-period guard against premature logout during storage hydration races.
package gateway

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	limiter "github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	"golang.org/x/sync/singleflight"

	"github.com/holdwallet/gateway/gateway/credentials"
	"github.com/holdwallet/gateway/lib"
	"github.com/holdwallet/gateway/lib/logger"
	"github.com/holdwallet/gateway/lib/stringset"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxConns    = 100
	defaultGracePeriod = 15 * time.Second
	defaultLogoutDelay = 2 * time.Second

	requestIDHeader = "X-Request-ID"
)

var fastJSON = jsoniter.ConfigFastest

// SessionNotifier receives the user-visible, non-blocking notification that
// the session has expired.
type SessionNotifier interface {
	SessionExpired(message string)
}

type logNotifier struct{}

func (logNotifier) SessionExpired(message string) {
	logger.Standard().Warn(message)
}

// Config holds the gateway settings.
type Config struct {
	// Addr is the backend address; a bare host defaults to https.
	Addr string
	// Timeout bounds every request.
	Timeout time.Duration
	// MaxConns caps connections to the backend host.
	MaxConns int
	// CollectionPaths is the trailing-slash normalization allow-list.
	CollectionPaths []string
	// GracePeriod suppresses logout escalation this long after login.
	GracePeriod time.Duration
	// LogoutDelay is the pause between the session-expired notification and
	// the OnSessionExpired callback.
	LogoutDelay time.Duration
	// LegacyForbiddenLogout controls the heuristic for 403 responses without
	// a structured envelope: escalate to logout only when no token is
	// resolvable at all. Nil means enabled.
	LegacyForbiddenLogout *bool
	// RateLimitTokens enables client-side throttling of outbound requests
	// when non-zero: that many requests per RateLimitInterval.
	RateLimitTokens uint64
	// RateLimitInterval is the throttling window, default one second.
	RateLimitInterval time.Duration
	// Clock is used for all timing decisions.
	Clock clockwork.Clock
	// Notifier receives session-expired notifications.
	Notifier SessionNotifier
	// OnSessionExpired is invoked after LogoutDelay once the session has been
	// torn down; the application should route the user to its login entry
	// point.
	OnSessionExpired func()
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Addr == "" {
		return trace.BadParameter("missing backend address")
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.CollectionPaths == nil {
		c.CollectionPaths = DefaultCollectionPaths
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaultGracePeriod
	}
	if c.LogoutDelay <= 0 {
		c.LogoutDelay = defaultLogoutDelay
	}
	if c.LegacyForbiddenLogout == nil {
		enabled := true
		c.LegacyForbiddenLogout = &enabled
	}
	if c.RateLimitTokens > 0 && c.RateLimitInterval <= 0 {
		c.RateLimitInterval = time.Second
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Notifier == nil {
		c.Notifier = logNotifier{}
	}
	return nil
}

// Client is the resilient token-backed HTTP gateway. Construct one per
// application root and pass it by reference to consumers.
type Client struct {
	http        *resty.Client
	conf        Config
	resolver    *credentials.Resolver
	grace       credentials.GraceMarker
	collections stringset.StringSet
	limiter     limiter.Store

	refreshGroup      singleflight.Group
	handlingAuthError atomic.Bool
}

// NewClient creates a gateway over the given credential resolver. The grace
// marker may be nil when no durable login-time store is available.
func NewClient(conf Config, resolver *credentials.Resolver, grace credentials.GraceMarker) (*Client, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if resolver == nil {
		return nil, trace.BadParameter("missing credential resolver")
	}

	baseURL, err := lib.AddrToURL(conf.Addr)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	httpClient := &http.Client{
		Timeout: conf.Timeout,
		Transport: &http.Transport{
			MaxConnsPerHost:     conf.MaxConns,
			MaxIdleConnsPerHost: conf.MaxConns,
		},
	}

	client := &Client{
		conf:        conf,
		resolver:    resolver,
		grace:       grace,
		collections: stringset.New(conf.CollectionPaths...),
	}

	if conf.RateLimitTokens > 0 {
		store, err := memorystore.New(&memorystore.Config{
			Tokens:   conf.RateLimitTokens,
			Interval: conf.RateLimitInterval,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		client.limiter = store
	}

	client.http = resty.NewWithClient(httpClient).
		SetBaseURL(baseURL.String()).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(fastJSON.Marshal).
		SetJSONUnmarshaler(fastJSON.Unmarshal).
		OnBeforeRequest(client.onBeforeRequest).
		OnAfterResponse(client.onAfterResponse)

	return client, nil
}

// Resolver exposes the credential resolver the gateway authenticates with.
func (c *Client) Resolver() *credentials.Resolver {
	return c.resolver
}

func (c *Client) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	ctx := req.Context()

	req.URL = NormalizePath(req.URL, c.collections, len(req.QueryParam) > 0)

	// Requests without a resolvable token proceed unauthenticated and let
	// the backend decide; blocking them client-side would break public
	// endpoints.
	if token := c.resolver.Token(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set(requestIDHeader, uuid.New().String())

	if c.limiter != nil {
		_, _, _, ok, err := c.limiter.Take(ctx, "outbound")
		if err != nil {
			return trace.Wrap(err)
		}
		if !ok {
			return trace.LimitExceeded("client-side rate limit exceeded")
		}
	}
	return nil
}

func (c *Client) onAfterResponse(_ *resty.Client, resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	correlationID := resp.Request.Header.Get(requestIDHeader)
	return parseAPIError(resp.StatusCode(), resp.Body(), correlationID)
}

// execute dispatches a single request with no recovery logic.
func (c *Client) execute(ctx context.Context, method, path string, body, result interface{}) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	_, err := req.Execute(method, path)
	return err
}

// do dispatches a request with the full recovery behavior: transparent
// refresh and a single replay on 401, forbidden bifurcation on 403, and
// transport error classification.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	err := c.execute(ctx, method, path, body, result)
	if err == nil {
		return nil
	}

	apiErr, ok := GetAPIError(err)
	if !ok {
		return c.classifyTransportError(ctx, err)
	}

	switch apiErr.Status {
	case http.StatusUnauthorized:
		return c.recoverUnauthorized(ctx, method, path, body, result, err)
	case http.StatusForbidden:
		return c.handleForbidden(ctx, apiErr)
	default:
		return trace.Wrap(err)
	}
}

// recoverUnauthorized refreshes the token and replays the request exactly
// once. A second 401, or a failed refresh, escalates to the auth-error
// handler.
func (c *Client) recoverUnauthorized(ctx context.Context, method, path string, body, result interface{}, original error) error {
	log := logger.Get(ctx)

	if err := c.refreshToken(ctx); err != nil {
		// A refresh aborted by the caller's context says nothing about the
		// session; singleflight waiters may share such an outcome too.
		if lib.IsCanceled(err) {
			return trace.Wrap(err)
		}
		log.WithError(err).Debug("Token refresh failed, escalating")
		c.HandleAuthError(ctx)
		return trace.Wrap(original)
	}

	err := c.execute(ctx, method, path, body, result)
	if err == nil {
		return nil
	}
	replayErr, ok := GetAPIError(err)
	if !ok {
		return c.classifyTransportError(ctx, err)
	}
	switch replayErr.Status {
	case http.StatusUnauthorized:
		c.HandleAuthError(ctx)
		return trace.Wrap(err)
	case http.StatusForbidden:
		return c.handleForbidden(ctx, replayErr)
	default:
		return trace.Wrap(err)
	}
}

// handleForbidden bifurcates 403s: session-ending causes escalate to logout,
// step-up and business-rule causes are surfaced to the caller untouched.
func (c *Client) handleForbidden(ctx context.Context, apiErr *APIError) error {
	if apiErr.Structured {
		if apiErr.RequiresLogout {
			c.HandleAuthError(ctx)
		}
		return trace.Wrap(apiErr)
	}

	// Legacy backend without the structured envelope. The best signal
	// available is whether any token is resolvable at all.
	if *c.conf.LegacyForbiddenLogout && c.resolver.Token(ctx) == "" {
		c.HandleAuthError(ctx)
	}
	return trace.Wrap(apiErr)
}

func (c *Client) classifyTransportError(ctx context.Context, err error) error {
	log := logger.Get(ctx)
	switch {
	case lib.IsCanceled(err):
		log.WithError(err).Debug("Request cancelled by caller")
		return trace.Wrap(err)
	case lib.IsDeadline(err):
		log.WithError(err).Warn("Request timed out")
		return trace.Wrap(err)
	case lib.IsNetworkError(err):
		// Expected while the backend is offline, hence only a warning.
		log.WithError(err).Warn("Backend unreachable")
		return trace.ConnectionProblem(err, "backend unreachable")
	default:
		return trace.Wrap(err)
	}
}

// Get performs an authenticated GET with full recovery behavior.
func (c *Client) Get(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// Post performs an authenticated POST with full recovery behavior.
func (c *Client) Post(ctx context.Context, path string, body, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// Put performs an authenticated PUT with full recovery behavior.
func (c *Client) Put(ctx context.Context, path string, body, result interface{}) error {
	return c.do(ctx, http.MethodPut, path, body, result)
}

// Delete performs an authenticated DELETE with full recovery behavior.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}
