package credentials

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/holdwallet/gateway/lib/logger"
)

// Resolver walks a ranked list of sources and returns the first plausible
// credential. Successful reads backfill every higher-priority source that
// missed, so later calls in the same session are cheaper and consistent.
type Resolver struct {
	sources []Source
}

// NewResolver creates a resolver over the given sources, highest priority
// first.
func NewResolver(sources ...Source) (*Resolver, error) {
	if len(sources) == 0 {
		return nil, trace.BadParameter("at least one credential source is required")
	}
	return &Resolver{sources: sources}, nil
}

// Resolve returns the highest-priority credential available, or nil when no
// source yields a plausible token.
func (r *Resolver) Resolve(ctx context.Context) *Credential {
	log := logger.Get(ctx)

	for i, source := range r.sources {
		cred, err := source.TryRead(ctx)
		if err != nil {
			if !trace.IsNotFound(err) {
				log.WithError(err).Warnf("Failed to read credential from %q", source.Name())
			}
			continue
		}
		if cred == nil || !Plausible(cred.Token) {
			continue
		}

		r.backfill(ctx, i, cred)
		return cred
	}
	return nil
}

// Token returns the resolved token, or an empty string when unauthenticated.
func (r *Resolver) Token(ctx context.Context) string {
	if cred := r.Resolve(ctx); cred != nil {
		return cred.Token
	}
	return ""
}

// Store writes the credential to every source.
func (r *Resolver) Store(ctx context.Context, cred *Credential) error {
	if cred == nil {
		return trace.BadParameter("missing credential")
	}
	var errs []error
	for _, source := range r.sources {
		if err := source.Write(ctx, cred); err != nil {
			errs = append(errs, trace.Wrap(err, "writing credential to %q", source.Name()))
		}
	}
	return trace.NewAggregate(errs...)
}

// UpdateToken overwrites the token in every source. Sources that support
// in-place updates keep their sibling fields untouched; the rest get a full
// rewrite of the refreshed credential.
func (r *Resolver) UpdateToken(ctx context.Context, token string) error {
	if !Plausible(token) {
		return trace.BadParameter("refusing to store an implausible token")
	}

	cred := r.Resolve(ctx)
	if cred == nil {
		cred = &Credential{}
	}
	cred.Token = token

	var errs []error
	for _, source := range r.sources {
		if updater, ok := source.(TokenUpdater); ok {
			err := updater.UpdateToken(ctx, token)
			if err == nil || trace.IsNotFound(err) {
				continue
			}
			errs = append(errs, trace.Wrap(err, "updating token in %q", source.Name()))
			continue
		}
		if err := source.Write(ctx, cred); err != nil {
			errs = append(errs, trace.Wrap(err, "writing credential to %q", source.Name()))
		}
	}
	return trace.NewAggregate(errs...)
}

// Clear removes the credential from every source. All sources are attempted
// even when some fail.
func (r *Resolver) Clear(ctx context.Context) error {
	var errs []error
	for _, source := range r.sources {
		if err := source.Clear(ctx); err != nil {
			errs = append(errs, trace.Wrap(err, "clearing credential from %q", source.Name()))
		}
	}
	return trace.NewAggregate(errs...)
}

func (r *Resolver) backfill(ctx context.Context, hit int, cred *Credential) {
	log := logger.Get(ctx)

	for j := 0; j < hit; j++ {
		if err := r.sources[j].Write(ctx, cred); err != nil {
			log.WithError(err).Warnf("Failed to backfill credential into %q", r.sources[j].Name())
		}
	}
}
