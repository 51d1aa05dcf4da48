package credentials

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/peterbourgon/diskv/v3"
)

const (
	// credentialKey is the diskv key the credential blob lives under.
	credentialKey = "credential"

	// loginTimeKey is the diskv key for the grace-period marker.
	loginTimeKey = "login_time"

	// durableCacheSizeMax caps the diskv in-memory read cache.
	durableCacheSizeMax = 1024
)

// DurableSource persists the credential on disk with diskv. It survives
// process restarts and also carries the login grace-period marker.
type DurableSource struct {
	dv    *diskv.Diskv
	clock clockwork.Clock
}

// NewDurableSource creates a disk-backed source rooted at dir.
func NewDurableSource(dir string, clock clockwork.Clock) *DurableSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	flatTransform := func(s string) []string { return []string{} }

	return &DurableSource{
		dv: diskv.New(diskv.Options{
			BasePath:     dir,
			Transform:    flatTransform,
			CacheSizeMax: durableCacheSizeMax,
		}),
		clock: clock,
	}
}

func (s *DurableSource) Name() string { return "durable" }

func (s *DurableSource) TryRead(_ context.Context) (*Credential, error) {
	payload, err := s.dv.Read(credentialKey)
	if err != nil {
		return nil, trace.NotFound("no durable credential")
	}

	var cred Credential
	if err := json.Unmarshal(payload, &cred); err != nil {
		return nil, trace.Wrap(err)
	}
	if !Plausible(cred.Token) {
		return nil, trace.NotFound("durable credential has no usable token")
	}
	return &cred, nil
}

func (s *DurableSource) Write(_ context.Context, cred *Credential) error {
	if cred == nil {
		return trace.BadParameter("missing credential")
	}
	payload, err := json.Marshal(cred)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.dv.Write(credentialKey, payload))
}

func (s *DurableSource) Clear(ctx context.Context) error {
	if s.dv.Has(credentialKey) {
		if err := s.dv.Erase(credentialKey); err != nil {
			return trace.Wrap(err)
		}
	}
	return trace.Wrap(s.ClearLoginMark(ctx))
}

// MarkLogin records the current time as the login moment.
func (s *DurableSource) MarkLogin(_ context.Context) error {
	payload := s.clock.Now().UTC().Format(time.RFC3339Nano)
	return trace.Wrap(s.dv.Write(loginTimeKey, []byte(payload)))
}

// LoginTime returns the recorded login moment, or trace.NotFound when no
// login has been marked.
func (s *DurableSource) LoginTime(_ context.Context) (time.Time, error) {
	payload, err := s.dv.Read(loginTimeKey)
	if err != nil {
		return time.Time{}, trace.NotFound("no login time recorded")
	}
	t, err := time.Parse(time.RFC3339Nano, string(payload))
	if err != nil {
		return time.Time{}, trace.Wrap(err)
	}
	return t, nil
}

// ClearLoginMark removes the grace-period marker so a stale timestamp cannot
// suppress a future logout.
func (s *DurableSource) ClearLoginMark(_ context.Context) error {
	if !s.dv.Has(loginTimeKey) {
		return nil
	}
	return trace.Wrap(s.dv.Erase(loginTimeKey))
}
