package repository

import (
	"context"
	"errors"

	"github.com/nimbuschat/gatekeeper/internal/domain"
	"github.com/nimbuschat/gatekeeper/internal/observability"

	"gorm.io/gorm"
)

var ErrSubscriptionNotFound = errors.New("subscription record not found")

// SubscriptionRepository reads billing-owned state. The admission core never
// writes subscriptions; the billing subsystem is their sole owner.
type SubscriptionRepository interface {
	FindByIdentity(identityID string) (*domain.Subscription, error)
}

type GormSubscriptionRepository struct{ db *gorm.DB }

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

func (r *GormSubscriptionRepository) FindByIdentity(identityID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := r.db.Where("identity_id = ?", identityID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "subscription", "find_by_identity", "not_found")
			return nil, ErrSubscriptionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "subscription", "find_by_identity", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "subscription", "find_by_identity", "success")
	return &sub, nil
}
