package credentials

import (
	"context"
	"strings"

	"github.com/gravitational/trace"

	"github.com/holdwallet/gateway/gateway/kv"
)

// ScanSource is the last-resort recovery path: it walks every key of a store
// whose name mentions auth or token and tries the multi-shape extraction on
// each value. It never persists anything of its own.
type ScanSource struct {
	store kv.Store
}

// NewScanSource creates a scanning source over the given store.
func NewScanSource(store kv.Store) *ScanSource {
	return &ScanSource{store: store}
}

func (s *ScanSource) Name() string { return "scan" }

func (s *ScanSource) TryRead(_ context.Context) (*Credential, error) {
	for _, key := range s.store.Keys() {
		if !scanCandidate(key) {
			continue
		}
		raw, ok := s.store.Get(key)
		if !ok {
			continue
		}
		// Bare token values are stored unquoted, envelopes as JSON.
		if Plausible(raw) && !strings.HasPrefix(raw, "{") {
			return &Credential{Token: raw}, nil
		}
		if token, ok := ExtractToken(raw); ok {
			return &Credential{Token: token, User: extractUser(raw)}, nil
		}
	}
	return nil, trace.NotFound("no recoverable token in storage")
}

// Write is a no-op: the scan tier only ever recovers what other tiers wrote.
func (s *ScanSource) Write(_ context.Context, _ *Credential) error {
	return nil
}

// Clear wipes every candidate key so no stale token can be recovered after
// logout.
func (s *ScanSource) Clear(_ context.Context) error {
	var errs []error
	for _, key := range s.store.Keys() {
		if scanCandidate(key) {
			errs = append(errs, s.store.Delete(key))
		}
	}
	return trace.NewAggregate(errs...)
}

func scanCandidate(key string) bool {
	lower := strings.ToLower(key)
	return strings.Contains(lower, "auth") || strings.Contains(lower, "token")
}
