// Package credentials implements the gateway's credential persistence: a
// ranked list of storage sources, a resolver that walks them in priority
// order, and the login grace-period marker.
package credentials

import (
	"context"
	"strings"
	"time"
)

// minTokenLength is the shortest token value considered plausible. Anything
// shorter is treated as garbage left over from older persistence formats.
const minTokenLength = 20

// UserProfile is the read view of the authenticated user that travels with
// the token.
type UserProfile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Credential is the authoritative authentication state. At most one value is
// treated as authoritative at any instant; readers fall back through the
// ranked sources until one yields a plausible token.
type Credential struct {
	Token    string      `json:"token"`
	User     UserProfile `json:"user"`
	IssuedAt time.Time   `json:"issued_at"`
}

// Plausible reports whether a stored string looks like an actual token.
func Plausible(token string) bool {
	if len(token) < minTokenLength {
		return false
	}
	return !strings.ContainsAny(token, " \t\r\n")
}

// Source is a single credential storage tier.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// TryRead returns the stored credential, or a trace.NotFound error when
	// the source holds nothing usable.
	TryRead(ctx context.Context) (*Credential, error)
	// Write persists the credential.
	Write(ctx context.Context, cred *Credential) error
	// Clear removes the credential. Clearing an empty source is not an error.
	Clear(ctx context.Context) error
}

// TokenUpdater is implemented by sources that can overwrite just the token
// field of their persisted form, leaving sibling fields untouched. Sources
// without it get a full Write on token refresh.
type TokenUpdater interface {
	UpdateToken(ctx context.Context, token string) error
}

// GraceMarker records when the user logged in, so that authentication
// failures racing against slow storage hydration right after login can be
// told apart from a genuinely dead session.
type GraceMarker interface {
	MarkLogin(ctx context.Context) error
	LoginTime(ctx context.Context) (time.Time, error)
	ClearLoginMark(ctx context.Context) error
}
