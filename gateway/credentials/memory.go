package credentials

import (
	"context"
	"sync"

	"github.com/gravitational/trace"
)

// MemorySource is the fastest tier: a process-local copy of the credential.
type MemorySource struct {
	mu   sync.RWMutex
	cred *Credential
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

func (s *MemorySource) Name() string { return "memory" }

func (s *MemorySource) TryRead(_ context.Context) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil || !Plausible(s.cred.Token) {
		return nil, trace.NotFound("no credential in memory")
	}
	cred := *s.cred
	return &cred, nil
}

func (s *MemorySource) Write(_ context.Context, cred *Credential) error {
	if cred == nil {
		return trace.BadParameter("missing credential")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cred
	s.cred = &copied
	return nil
}

func (s *MemorySource) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}
