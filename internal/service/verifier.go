package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nimbuschat/gatekeeper/internal/domain"
	"github.com/nimbuschat/gatekeeper/internal/identity"
	"github.com/nimbuschat/gatekeeper/internal/observability"
	"github.com/nimbuschat/gatekeeper/internal/security"
)

// Verifier resolves credentials to identities. Every provider-side failure,
// whichever path produced it, collapses to domain.ErrUnauthenticated so
// callers cannot distinguish why verification failed.
type Verifier struct {
	provider identity.Provider
	cache    VerifyCacheStore
	cacheTTL time.Duration
}

func NewVerifier(provider identity.Provider, cache VerifyCacheStore, cacheTTL time.Duration) *Verifier {
	if cache == nil {
		cache = NewNoopVerifyCacheStore()
	}
	return &Verifier{provider: provider, cache: cache, cacheTTL: cacheTTL}
}

func (v *Verifier) Verify(ctx context.Context, token string, cookies []*http.Cookie) (*domain.Identity, error) {
	if token == "" {
		return v.verifyCookieSession(ctx, cookies)
	}
	return v.verifyBearer(ctx, token)
}

func (v *Verifier) verifyBearer(ctx context.Context, token string) (*domain.Identity, error) {
	if security.BearerExpired(token, time.Now()) {
		observability.RecordIdentityVerification(ctx, "bearer", "expired")
		return nil, domain.ErrUnauthenticated
	}

	if identityID, ok, err := v.cache.Get(ctx, token); err == nil && ok {
		observability.RecordIdentityVerification(ctx, "bearer", "cache_hit")
		return &domain.Identity{ID: identityID, Verified: true}, nil
	} else if err != nil {
		// A degraded cache only costs a provider round-trip.
		slog.WarnContext(ctx, "verify cache unavailable", "error", err.Error())
	}

	id, err := v.provider.UserFromToken(ctx, token)
	if err != nil {
		observability.RecordIdentityVerification(ctx, "bearer", "rejected")
		return nil, domain.ErrUnauthenticated
	}
	if cacheErr := v.cache.Set(ctx, token, id.ID, v.cacheTTL); cacheErr != nil {
		slog.WarnContext(ctx, "verify cache write failed", "error", cacheErr.Error())
	}
	observability.RecordIdentityVerification(ctx, "bearer", "verified")
	return id, nil
}

func (v *Verifier) verifyCookieSession(ctx context.Context, cookies []*http.Cookie) (*domain.Identity, error) {
	if len(cookies) == 0 {
		observability.RecordIdentityVerification(ctx, "cookie_session", "no_credential")
		return nil, domain.ErrUnauthenticated
	}
	id, err := v.provider.UserFromCookies(ctx, cookies)
	if err != nil {
		observability.RecordIdentityVerification(ctx, "cookie_session", "rejected")
		return nil, domain.ErrUnauthenticated
	}
	observability.RecordIdentityVerification(ctx, "cookie_session", "verified")
	return id, nil
}
