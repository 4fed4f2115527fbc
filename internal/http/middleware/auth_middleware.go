package middleware

import (
	"context"
	"net/http"

	"github.com/nimbuschat/gatekeeper/internal/domain"
	"github.com/nimbuschat/gatekeeper/internal/http/response"
	"github.com/nimbuschat/gatekeeper/internal/observability"
	"github.com/nimbuschat/gatekeeper/internal/security"
	"github.com/nimbuschat/gatekeeper/internal/service"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// IdentityAuth resolves the request credential and verifies it against the
// identity provider. Requests without a provable identity get a uniform 401;
// handlers behind this middleware can assume IdentityFromContext succeeds.
func IdentityAuth(verifier service.IdentityVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, source := security.ResolveCredential(r)
			observability.RecordCredentialResolution(r.Context(), string(source))

			id, err := verifier.Verify(r.Context(), token, r.Cookies())
			if err != nil {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
				return
			}

			ctx := context.WithValue(r.Context(), IdentityContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityFromContext(ctx context.Context) (*domain.Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(*domain.Identity)
	return id, ok
}
