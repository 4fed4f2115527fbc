package service

import (
	"context"

	"github.com/nimbuschat/gatekeeper/internal/domain"
	"github.com/nimbuschat/gatekeeper/internal/repository"
)

// CatalogService filters the raw plan table down to what the upgrade page may
// sell. Entries without a billing price reference exist for bookkeeping only
// and are never offered.
type CatalogService struct {
	plans repository.PlanRepository
}

func NewCatalogService(plans repository.PlanRepository) *CatalogService {
	return &CatalogService{plans: plans}
}

func (s *CatalogService) ListAvailable(ctx context.Context) ([]domain.Plan, error) {
	all, err := s.plans.List()
	if err != nil {
		return nil, domain.StorageError(err)
	}
	available := make([]domain.Plan, 0, len(all))
	for _, p := range all {
		if p.PriceRef == "" {
			continue
		}
		available = append(available, p)
	}
	return available, nil
}

// DailyLimitFor resolves a plan type to its daily interaction limit. Unlike
// ListAvailable it consults the full catalog, so limits keep applying to
// identities still holding a plan that was since pulled from sale.
func (s *CatalogService) DailyLimitFor(ctx context.Context, planType string) (int, error) {
	plan, err := s.plans.FindByType(planType)
	if err != nil {
		return 0, err
	}
	return plan.DailyLimit, nil
}
