package service

import (
	"context"
	"net/http"

	"github.com/nimbuschat/gatekeeper/internal/domain"
	"github.com/nimbuschat/gatekeeper/internal/repository"
)

// IdentityVerifier exchanges a resolved credential for a verified identity.
// An empty token triggers the cookie-session fallback path.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string, cookies []*http.Cookie) (*domain.Identity, error)
}

// UsageLedgerService is the admission decision surface for chat interactions.
type UsageLedgerService interface {
	CheckQuota(ctx context.Context, identityID string) (QuotaStatus, error)
	IncrementUsage(ctx context.Context, identityID string) (DailyUsage, error)
	GetDailyUsage(ctx context.Context, identityID string) (DailyUsage, error)
}

// AdminSessionManager issues and polices privileged sessions.
type AdminSessionManager interface {
	Login(ctx context.Context, secret, userAgent, ip string) (string, *domain.AdminSession, error)
	IsValid(ctx context.Context, token string) (bool, error)
	Destroy(ctx context.Context, token string) error
	Cleanup(ctx context.Context) (int64, error)
	ListSessions(ctx context.Context, page, pageSize int) (repository.PageResult[domain.AdminSession], error)
}

// PlanCatalog lists sellable plans and resolves per-plan daily limits.
type PlanCatalog interface {
	ListAvailable(ctx context.Context) ([]domain.Plan, error)
	DailyLimitFor(ctx context.Context, planType string) (int, error)
}
