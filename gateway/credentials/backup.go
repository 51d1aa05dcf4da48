package credentials

import (
	"context"
	"strconv"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/holdwallet/gateway/gateway/kv"
)

const (
	backupTokenKey     = "auth_token_backup"
	backupTimestampKey = "auth_token_timestamp"
)

// BackupSource keeps a bare token copy in a session-scoped store, written at
// login as a recovery path for when the structured envelope gets corrupted.
type BackupSource struct {
	store kv.Store
	clock clockwork.Clock
}

// NewBackupSource creates a backup source over the given store.
func NewBackupSource(store kv.Store, clock clockwork.Clock) *BackupSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BackupSource{store: store, clock: clock}
}

func (s *BackupSource) Name() string { return "session-backup" }

func (s *BackupSource) TryRead(_ context.Context) (*Credential, error) {
	token, ok := s.store.Get(backupTokenKey)
	if !ok || !Plausible(token) {
		return nil, trace.NotFound("no backup token")
	}

	cred := &Credential{Token: token}
	if raw, ok := s.store.Get(backupTimestampKey); ok {
		if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cred.IssuedAt = time.UnixMilli(millis).UTC()
		}
	}
	return cred, nil
}

func (s *BackupSource) Write(_ context.Context, cred *Credential) error {
	if cred == nil {
		return trace.BadParameter("missing credential")
	}
	if err := s.store.Set(backupTokenKey, cred.Token); err != nil {
		return trace.Wrap(err)
	}
	issuedAt := cred.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = s.clock.Now()
	}
	return trace.Wrap(s.store.Set(backupTimestampKey, strconv.FormatInt(issuedAt.UnixMilli(), 10)))
}

func (s *BackupSource) Clear(_ context.Context) error {
	if err := s.store.Delete(backupTokenKey); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.store.Delete(backupTimestampKey))
}
