package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimbuschat/gatekeeper/internal/domain"
	"github.com/nimbuschat/gatekeeper/internal/observability"

	"gorm.io/gorm"
)

var ErrAdminSessionNotFound = errors.New("admin session not found")

type AdminSessionRepository interface {
	Create(s *domain.AdminSession) error
	FindByTokenHash(hash string) (*domain.AdminSession, error)
	// Revoke stamps revoked_at where it is not already set. Returns whether a
	// row changed; revoking an already-revoked or unknown session changes
	// nothing and is not an error.
	Revoke(hash string, now time.Time) (bool, error)
	// DeleteStale permanently removes sessions that are expired or revoked as
	// of now. Rows created afterwards never match the predicate, so cleanup
	// is safe to run concurrently with Create and Revoke.
	DeleteStale(now time.Time) (int64, error)
	ListStale(now time.Time) ([]domain.AdminSession, error)
	DeleteByID(id uint) error
	ListPaged(req PageRequest) (PageResult[domain.AdminSession], error)
}

type GormAdminSessionRepository struct{ db *gorm.DB }

func NewAdminSessionRepository(db *gorm.DB) AdminSessionRepository {
	return &GormAdminSessionRepository{db: db}
}

func (r *GormAdminSessionRepository) Create(s *domain.AdminSession) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "admin_session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "admin_session", "create", "success")
	return nil
}

func (r *GormAdminSessionRepository) FindByTokenHash(hash string) (*domain.AdminSession, error) {
	var s domain.AdminSession
	err := r.db.Where("token_hash = ?", hash).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "admin_session", "find_by_token_hash", "not_found")
			return nil, ErrAdminSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "admin_session", "find_by_token_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "admin_session", "find_by_token_hash", "success")
	return &s, nil
}

func (r *GormAdminSessionRepository) Revoke(hash string, now time.Time) (bool, error) {
	res := r.db.Model(&domain.AdminSession{}).
		Where("token_hash = ? AND revoked_at IS NULL", hash).
		Updates(map[string]any{"revoked_at": now.UTC()})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "admin_session", "revoke", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "admin_session", "revoke", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormAdminSessionRepository) DeleteStale(now time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ? OR revoked_at IS NOT NULL", now).Delete(&domain.AdminSession{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "admin_session", "delete_stale", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "admin_session", "delete_stale", "success")
	return res.RowsAffected, nil
}

func (r *GormAdminSessionRepository) ListStale(now time.Time) ([]domain.AdminSession, error) {
	var sessions []domain.AdminSession
	err := r.db.Where("expires_at <= ? OR revoked_at IS NOT NULL", now).Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "admin_session", "list_stale", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "admin_session", "list_stale", "success")
	return sessions, nil
}

func (r *GormAdminSessionRepository) DeleteByID(id uint) error {
	err := r.db.Delete(&domain.AdminSession{}, id).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "admin_session", "delete_by_id", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "admin_session", "delete_by_id", "success")
	return nil
}

func (r *GormAdminSessionRepository) ListPaged(req PageRequest) (PageResult[domain.AdminSession], error) {
	req = normalizePageRequest(req)
	result := PageResult[domain.AdminSession]{Page: req.Page, PageSize: req.PageSize}

	base := r.db.Model(&domain.AdminSession{})
	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "admin_session", "list_paged", "error")
		return PageResult[domain.AdminSession]{}, err
	}

	offset := (req.Page - 1) * req.PageSize
	err := base.Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(req.PageSize).
		Find(&result.Items).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "admin_session", "list_paged", "error")
		return PageResult[domain.AdminSession]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(context.Background(), "admin_session", "list_paged", "success")
	return result, nil
}
