package credentials

import (
	"context"
	"encoding/json"

	"github.com/gravitational/trace"
	"github.com/tidwall/gjson"

	"github.com/holdwallet/gateway/gateway/kv"
)

// DefaultEnvelopeKey is the canonical persisted-state key of the client.
const DefaultEnvelopeKey = "hold-wallet-auth"

// tokenPaths are the known places a token may hide inside a persisted
// envelope. Persistence formats drifted across client versions, so reads
// tolerate all of them.
var tokenPaths = []string{"token", "state.token", "access_token"}

// ExtractToken pulls a plausible token out of a JSON envelope of any of the
// known shapes.
func ExtractToken(raw string) (string, bool) {
	if !gjson.Valid(raw) {
		return "", false
	}
	for _, path := range tokenPaths {
		if token := gjson.Get(raw, path).String(); Plausible(token) {
			return token, true
		}
	}
	return "", false
}

// extractUser pulls the user profile out of an envelope, if present.
func extractUser(raw string) UserProfile {
	var user UserProfile
	for _, path := range []string{"state.user", "user"} {
		if result := gjson.Get(raw, path); result.IsObject() {
			_ = json.Unmarshal([]byte(result.Raw), &user)
			break
		}
	}
	return user
}

// EnvelopeSource reads and writes the structured JSON envelope stored under
// the client's canonical persisted-state key.
type EnvelopeSource struct {
	store kv.Store
	key   string
}

// NewEnvelopeSource creates an envelope source over the given store. An empty
// key selects DefaultEnvelopeKey.
func NewEnvelopeSource(store kv.Store, key string) *EnvelopeSource {
	if key == "" {
		key = DefaultEnvelopeKey
	}
	return &EnvelopeSource{store: store, key: key}
}

func (s *EnvelopeSource) Name() string { return "envelope" }

func (s *EnvelopeSource) TryRead(_ context.Context) (*Credential, error) {
	raw, ok := s.store.Get(s.key)
	if !ok {
		return nil, trace.NotFound("no persisted envelope")
	}
	token, ok := ExtractToken(raw)
	if !ok {
		return nil, trace.NotFound("persisted envelope has no usable token")
	}
	return &Credential{Token: token, User: extractUser(raw)}, nil
}

func (s *EnvelopeSource) Write(ctx context.Context, cred *Credential) error {
	if cred == nil {
		return trace.BadParameter("missing credential")
	}
	envelope := map[string]interface{}{
		"state": map[string]interface{}{
			"user":            cred.User,
			"token":           cred.Token,
			"isAuthenticated": true,
		},
		"version": 1,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.store.Set(s.key, string(payload)))
}

// UpdateToken rewrites only the token field inside the persisted envelope,
// leaving every sibling field as it was.
func (s *EnvelopeSource) UpdateToken(ctx context.Context, token string) error {
	raw, ok := s.store.Get(s.key)
	if !ok {
		return trace.NotFound("no persisted envelope to update")
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return trace.Wrap(err)
	}

	switch {
	case envelope["state"] != nil:
		state, ok := envelope["state"].(map[string]interface{})
		if !ok {
			return trace.BadParameter("persisted envelope has a malformed state field")
		}
		state["token"] = token
	case envelope["access_token"] != nil:
		envelope["access_token"] = token
	default:
		envelope["token"] = token
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.store.Set(s.key, string(payload)))
}

func (s *EnvelopeSource) Clear(_ context.Context) error {
	return trace.Wrap(s.store.Delete(s.key))
}
