package repository

import (
	"context"
	"errors"

	"github.com/nimbuschat/gatekeeper/internal/domain"
	"github.com/nimbuschat/gatekeeper/internal/observability"

	"gorm.io/gorm"
)

var ErrPlanNotFound = errors.New("plan not found")

// PlanRepository exposes the plan catalog. The catalog returns every entry it
// knows about, including unsellable ones; filtering is the consumer's job.
type PlanRepository interface {
	List() ([]domain.Plan, error)
	FindByType(planType string) (*domain.Plan, error)
}

type GormPlanRepository struct{ db *gorm.DB }

func NewPlanRepository(db *gorm.DB) PlanRepository { return &GormPlanRepository{db: db} }

func (r *GormPlanRepository) List() ([]domain.Plan, error) {
	var plans []domain.Plan
	err := r.db.Order("daily_limit ASC").Find(&plans).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "plan", "list", "error")
		return plans, err
	}
	observability.RecordRepositoryOperation(context.Background(), "plan", "list", "success")
	return plans, nil
}

func (r *GormPlanRepository) FindByType(planType string) (*domain.Plan, error) {
	var plan domain.Plan
	err := r.db.Where("plan_type = ?", planType).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "plan", "find_by_type", "not_found")
			return nil, ErrPlanNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "plan", "find_by_type", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "plan", "find_by_type", "success")
	return &plan, nil
}
