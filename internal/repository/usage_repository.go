package repository

import (
	"context"
	"errors"

	"github.com/nimbuschat/gatekeeper/internal/domain"
	"github.com/nimbuschat/gatekeeper/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUsageNotFound     = errors.New("usage record not found")
	ErrDailyLimitReached = errors.New("daily limit reached")
)

// UnlimitedDailyLimit disables the increment guard for trial identities with
// an unrestricted quota.
const UnlimitedDailyLimit = -1

type UsageRepository interface {
	Find(identityID, day string) (*domain.UsageRecord, error)
	// Increment ensures today's record exists and atomically bumps the
	// counter, but only while it is below limit. The guard lives in a single
	// conditional UPDATE so concurrent callers can never over-admit.
	// A limit of UnlimitedDailyLimit increments unconditionally.
	Increment(identityID, day string, limit int, trialOverride bool) (*domain.UsageRecord, error)
}

type GormUsageRepository struct{ db *gorm.DB }

func NewUsageRepository(db *gorm.DB) UsageRepository { return &GormUsageRepository{db: db} }

func (r *GormUsageRepository) Find(identityID, day string) (*domain.UsageRecord, error) {
	var rec domain.UsageRecord
	err := r.db.Where("identity_id = ? AND usage_date = ?", identityID, day).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "usage", "find", "not_found")
			return nil, ErrUsageNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "usage", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "usage", "find", "success")
	return &rec, nil
}

func (r *GormUsageRepository) Increment(identityID, day string, limit int, trialOverride bool) (*domain.UsageRecord, error) {
	if err := r.ensure(identityID, day, limit, trialOverride); err != nil {
		observability.RecordRepositoryOperation(context.Background(), "usage", "increment", "error")
		return nil, err
	}

	update := r.db.Model(&domain.UsageRecord{}).
		Where("identity_id = ? AND usage_date = ?", identityID, day)
	if limit != UnlimitedDailyLimit {
		update = update.Where("interaction_count < ?", limit)
	}
	res := update.Updates(map[string]any{"interaction_count": gorm.Expr("interaction_count + 1")})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "usage", "increment", "error")
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "usage", "increment", "limit_reached")
		rec, err := r.Find(identityID, day)
		if err != nil {
			return nil, err
		}
		return rec, ErrDailyLimitReached
	}

	rec, err := r.Find(identityID, day)
	if err != nil {
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "usage", "increment", "success")
	return rec, nil
}

// ensure lazily materializes today's record. ON CONFLICT DO NOTHING on the
// (identity_id, usage_date) key makes racing callers converge on one row.
func (r *GormUsageRepository) ensure(identityID, day string, limit int, trialOverride bool) error {
	rec := domain.UsageRecord{
		IdentityID:       identityID,
		UsageDate:        day,
		InteractionCount: 0,
		DailyLimit:       limit,
		TrialOverride:    trialOverride,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_id"}, {Name: "usage_date"}},
		DoNothing: true,
	}).Create(&rec).Error
}
