package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	"github.com/holdwallet/gateway/gateway/credentials"
	"github.com/holdwallet/gateway/lib"
)

const (
	staleToken = "stale-aaaabbbbccccddddeeee"
	freshToken = "fresh-aaaabbbbccccddddeeee"
)

var testUser = credentials.UserProfile{ID: "u1", Email: "ops@hold.example.com", Name: "Ops", Role: "admin"}

// fakeBackend is an in-process stand-in for the HOLD Wallet backend.
type fakeBackend struct {
	srv *httptest.Server

	mu             sync.Mutex
	validTokens    map[string]bool
	refreshResults map[string]string
	stallRefresh   bool
	refreshCalls   int
	meCalls        int
	logoutCalls    int
	lastAuthHeader string
	lastRequestID  string
	lastPath       string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	backend := &fakeBackend{
		validTokens:    make(map[string]bool),
		refreshResults: make(map[string]string),
	}

	router := httprouter.New()
	router.RedirectTrailingSlash = false

	router.POST("/auth/login", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "correct" {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"message": "invalid credentials"})
			return
		}
		backend.mu.Lock()
		backend.validTokens[freshToken] = true
		backend.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]interface{}{"access_token": freshToken, "user": testUser})
	})

	router.POST("/auth/refresh", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		backend.mu.Lock()
		stall := backend.stallRefresh
		backend.mu.Unlock()
		if stall {
			// Drain the body so the server starts its background read and
			// can observe the client disconnect; otherwise the request
			// context never fires and Close deadlocks in cleanup.
			_, _ = io.Copy(io.Discard, r.Body)
			<-r.Context().Done()
			return
		}

		var req struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		backend.mu.Lock()
		backend.refreshCalls++
		next, ok := backend.refreshResults[req.Token]
		if _, known := backend.validTokens[next]; ok && !known {
			backend.validTokens[next] = true
		}
		backend.mu.Unlock()

		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"message": "refresh token expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"access_token": next, "user": testUser})
	})

	router.POST("/auth/logout", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		backend.mu.Lock()
		backend.logoutCalls++
		backend.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	router.GET("/auth/me", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		backend.mu.Lock()
		backend.meCalls++
		authorized := backend.validTokens[bearerToken(r)]
		backend.mu.Unlock()

		if !authorized {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, testUser)
	})

	router.GET("/health", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "version": "1.2.3"})
	})

	router.GET("/echo", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		backend.mu.Lock()
		backend.lastAuthHeader = r.Header.Get("Authorization")
		backend.lastRequestID = r.Header.Get("X-Request-ID")
		backend.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]interface{}{})
	})

	router.GET("/wallets/", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		backend.mu.Lock()
		backend.lastPath = r.URL.Path
		backend.mu.Unlock()
		writeJSON(w, http.StatusOK, []interface{}{})
	})

	router.GET("/locked", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		backend.mu.Lock()
		authorized := backend.validTokens[bearerToken(r)]
		backend.mu.Unlock()

		if !authorized {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "unauthorized"})
			return
		}
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"code":            "session_revoked",
			"requires_logout": true,
		})
	})

	router.GET("/forbidden/reauth", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"code":            "mfa_required",
			"requires_reauth": true,
			"detail":          "second factor expired",
		})
	})

	router.GET("/forbidden/logout", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"code":            "session_revoked",
			"requires_logout": true,
		})
	})

	router.GET("/forbidden/legacy", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("Forbidden"))
	})

	router.GET("/slow", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		<-r.Context().Done()
	})

	backend.srv = httptest.NewServer(router)
	t.Cleanup(backend.srv.Close)
	return backend
}

func (b *fakeBackend) counts() (refresh, me, logout int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshCalls, b.meCalls, b.logoutCalls
}

func (b *fakeBackend) lastSeen() (auth, requestID, path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAuthHeader, b.lastRequestID, b.lastPath
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) SessionExpired(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func newSeededResolver(t *testing.T, token string) *credentials.Resolver {
	t.Helper()
	source := credentials.NewMemorySource()
	if token != "" {
		require.NoError(t, source.Write(context.Background(), &credentials.Credential{Token: token, User: testUser}))
	}
	resolver, err := credentials.NewResolver(source)
	require.NoError(t, err)
	return resolver
}

func newTestClient(t *testing.T, conf Config, resolver *credentials.Resolver, grace credentials.GraceMarker) *Client {
	t.Helper()
	client, err := NewClient(conf, resolver, grace)
	require.NoError(t, err)
	return client
}

func TestRequestCarriesBearerAndRequestID(t *testing.T) {
	backend := newFakeBackend(t)
	resolver := newSeededResolver(t, freshToken)
	client := newTestClient(t, Config{Addr: backend.srv.URL}, resolver, nil)

	var result map[string]interface{}
	require.NoError(t, client.Get(context.Background(), "/echo", &result))

	auth, requestID, _ := backend.lastSeen()
	require.Equal(t, "Bearer "+freshToken, auth)
	_, err := uuid.Parse(requestID)
	require.NoError(t, err)
}

func TestUnauthenticatedRequestOmitsBearer(t *testing.T) {
	backend := newFakeBackend(t)
	client := newTestClient(t, Config{Addr: backend.srv.URL}, newSeededResolver(t, ""), nil)

	var result map[string]interface{}
	require.NoError(t, client.Get(context.Background(), "/echo", &result))
	auth, _, _ := backend.lastSeen()
	require.Empty(t, auth)
}

func TestCollectionPathGetsTrailingSlash(t *testing.T) {
	backend := newFakeBackend(t)
	client := newTestClient(t, Config{Addr: backend.srv.URL}, newSeededResolver(t, freshToken), nil)

	var result []interface{}
	require.NoError(t, client.Get(context.Background(), "/wallets", &result))
	_, _, path := backend.lastSeen()
	require.Equal(t, "/wallets/", path)
}

func TestQueryStringSkipsNormalization(t *testing.T) {
	backend := newFakeBackend(t)
	client := newTestClient(t, Config{Addr: backend.srv.URL}, newSeededResolver(t, freshToken), nil)

	// the un-normalized path is not routed, so reaching it proves the
	// normalization was skipped
	err := client.Get(context.Background(), "/wallets?limit=10", nil)
	apiErr, ok := GetAPIError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestUnauthorizedRefreshesAndReplaysOnce(t *testing.T) {
	backend := newFakeBackend(t)
	backend.refreshResults[staleToken] = freshToken

	resolver := newSeededResolver(t, staleToken)
	notifier := &recordingNotifier{}
	client := newTestClient(t, Config{Addr: backend.srv.URL, Notifier: notifier}, resolver, nil)

	user, err := client.CurrentUser(context.Background())
	require.NoError(t, err)
	require.Equal(t, testUser.Email, user.Email)

	refresh, me, _ := backend.counts()
	require.Equal(t, 1, refresh)
	require.Equal(t, 2, me)
	require.Zero(t, notifier.count())

	// the refreshed token replaced the stale one in storage
	require.Equal(t, freshToken, resolver.Token(context.Background()))
}

func TestSecondUnauthorizedEscalates(t *testing.T) {
	backend := newFakeBackend(t)
	// refresh succeeds but yields a token the backend will not accept
	backend.refreshResults[staleToken] = "rotten-aaaabbbbccccdddd"
	backend.mu.Lock()
	backend.validTokens["rotten-aaaabbbbccccdddd"] = false
	backend.mu.Unlock()

	clock := clockwork.NewFakeClock()
	notifier := &recordingNotifier{}
	var redirects int32

	resolver := newSeededResolver(t, staleToken)
	client := newTestClient(t, Config{
		Addr:             backend.srv.URL,
		Clock:            clock,
		Notifier:         notifier,
		OnSessionExpired: func() { atomic.AddInt32(&redirects, 1) },
	}, resolver, nil)

	_, err := client.CurrentUser(context.Background())
	require.True(t, IsUnauthorized(err))

	refresh, me, _ := backend.counts()
	require.Equal(t, 1, refresh)
	require.Equal(t, 2, me)
	require.Equal(t, 1, notifier.count())
	require.Empty(t, resolver.Token(context.Background()))

	// the redirect fires only after the logout delay
	require.Zero(t, atomic.LoadInt32(&redirects))
	clock.BlockUntil(1)
	clock.Advance(defaultLogoutDelay)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&redirects) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestFailedRefreshEscalatesWithOriginalError(t *testing.T) {
	backend := newFakeBackend(t)

	notifier := &recordingNotifier{}
	resolver := newSeededResolver(t, staleToken)
	client := newTestClient(t, Config{Addr: backend.srv.URL, Notifier: notifier}, resolver, nil)

	_, err := client.CurrentUser(context.Background())
	require.True(t, IsUnauthorized(err))

	refresh, me, _ := backend.counts()
	require.Equal(t, 1, refresh)
	require.Equal(t, 1, me)
	require.Equal(t, 1, notifier.count())
}

func TestForbiddenReauthKeepsSession(t *testing.T) {
	backend := newFakeBackend(t)
	notifier := &recordingNotifier{}
	resolver := newSeededResolver(t, freshToken)
	client := newTestClient(t, Config{Addr: backend.srv.URL, Notifier: notifier}, resolver, nil)

	err := client.Get(context.Background(), "/forbidden/reauth", nil)
	require.True(t, IsForbidden(err))
	require.True(t, IsReauthRequired(err))

	apiErr, ok := GetAPIError(err)
	require.True(t, ok)
	require.Equal(t, "mfa_required", apiErr.Code)
	require.Equal(t, "second factor expired", apiErr.Detail)

	require.Zero(t, notifier.count())
	require.Equal(t, freshToken, resolver.Token(context.Background()))
}

func TestForbiddenLogoutEndsSession(t *testing.T) {
	backend := newFakeBackend(t)
	notifier := &recordingNotifier{}
	resolver := newSeededResolver(t, freshToken)
	client := newTestClient(t, Config{Addr: backend.srv.URL, Notifier: notifier}, resolver, nil)

	err := client.Get(context.Background(), "/forbidden/logout", nil)
	require.True(t, IsForbidden(err))
	require.Equal(t, 1, notifier.count())
	require.Empty(t, resolver.Token(context.Background()))
}

func TestForbiddenLegacyWithTokenKeepsSession(t *testing.T) {
	backend := newFakeBackend(t)
	notifier := &recordingNotifier{}
	resolver := newSeededResolver(t, freshToken)
	client := newTestClient(t, Config{Addr: backend.srv.URL, Notifier: notifier}, resolver, nil)

	err := client.Get(context.Background(), "/forbidden/legacy", nil)
	require.True(t, IsForbidden(err))

	apiErr, ok := GetAPIError(err)
	require.True(t, ok)
	require.False(t, apiErr.Structured)

	require.Zero(t, notifier.count())
	require.Equal(t, freshToken, resolver.Token(context.Background()))
}

func TestForbiddenLegacyWithoutTokenEndsSession(t *testing.T) {
	backend := newFakeBackend(t)
	notifier := &recordingNotifier{}
	client := newTestClient(t, Config{Addr: backend.srv.URL, Notifier: notifier}, newSeededResolver(t, ""), nil)

	err := client.Get(context.Background(), "/forbidden/legacy", nil)
	require.True(t, IsForbidden(err))
	require.Equal(t, 1, notifier.count())
}

func TestForbiddenLegacyHeuristicDisabled(t *testing.T) {
	backend := newFakeBackend(t)
	notifier := &recordingNotifier{}
	disabled := false
	client := newTestClient(t, Config{
		Addr:                  backend.srv.URL,
		Notifier:              notifier,
		LegacyForbiddenLogout: &disabled,
	}, newSeededResolver(t, ""), nil)

	err := client.Get(context.Background(), "/forbidden/legacy", nil)
	require.True(t, IsForbidden(err))
	require.Zero(t, notifier.count())
}

func TestCancellationPassesThrough(t *testing.T) {
	backend := newFakeBackend(t)
	notifier := &recordingNotifier{}
	client := newTestClient(t, Config{Addr: backend.srv.URL, Notifier: notifier}, newSeededResolver(t, freshToken), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := client.Get(ctx, "/slow", nil)
	require.True(t, lib.IsCanceled(err))
	require.Zero(t, notifier.count())
}

func TestCancelledRefreshKeepsSession(t *testing.T) {
	backend := newFakeBackend(t)
	backend.stallRefresh = true

	notifier := &recordingNotifier{}
	resolver := newSeededResolver(t, staleToken)
	client := newTestClient(t, Config{Addr: backend.srv.URL, Notifier: notifier}, resolver, nil)

	// the stale token draws a 401, and the refresh hangs until the caller
	// gives up mid-flight
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.CurrentUser(ctx)
	require.True(t, lib.IsCanceled(err))

	require.Zero(t, notifier.count())
	require.Equal(t, staleToken, resolver.Token(context.Background()))
}

func TestReplayForbiddenLogoutEndsSession(t *testing.T) {
	backend := newFakeBackend(t)
	backend.refreshResults[staleToken] = freshToken

	notifier := &recordingNotifier{}
	resolver := newSeededResolver(t, staleToken)
	client := newTestClient(t, Config{Addr: backend.srv.URL, Notifier: notifier}, resolver, nil)

	// first attempt 401s, the refreshed replay answers a session-revoking 403
	err := client.Get(context.Background(), "/locked", nil)
	require.True(t, IsForbidden(err))
	require.Equal(t, 1, notifier.count())
	require.Empty(t, resolver.Token(context.Background()))
}

func TestUnreachableBackendIsConnectionProblem(t *testing.T) {
	client := newTestClient(t, Config{Addr: "http://127.0.0.1:1"}, newSeededResolver(t, freshToken), nil)

	err := client.Get(context.Background(), "/echo", nil)
	require.True(t, trace.IsConnectionProblem(err))
}

func TestClientSideRateLimit(t *testing.T) {
	backend := newFakeBackend(t)
	client := newTestClient(t, Config{
		Addr:              backend.srv.URL,
		RateLimitTokens:   2,
		RateLimitInterval: time.Hour,
	}, newSeededResolver(t, freshToken), nil)

	ctx := context.Background()
	require.NoError(t, client.Get(ctx, "/echo", nil))
	require.NoError(t, client.Get(ctx, "/echo", nil))

	err := client.Get(ctx, "/echo", nil)
	require.True(t, trace.IsLimitExceeded(err))
}

func TestConfigCheckAndSetDefaults(t *testing.T) {
	var conf Config
	require.True(t, trace.IsBadParameter(conf.CheckAndSetDefaults()))

	conf.Addr = "api.hold.example.com"
	require.NoError(t, conf.CheckAndSetDefaults())
	require.Equal(t, defaultTimeout, conf.Timeout)
	require.Equal(t, defaultGracePeriod, conf.GracePeriod)
	require.Equal(t, DefaultCollectionPaths, conf.CollectionPaths)
	require.NotNil(t, conf.LegacyForbiddenLogout)
	require.True(t, *conf.LegacyForbiddenLogout)
}
