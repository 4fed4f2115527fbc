package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nimbuschat/gatekeeper/internal/domain"
	"github.com/nimbuschat/gatekeeper/internal/observability"
	"github.com/nimbuschat/gatekeeper/internal/repository"
	"github.com/nimbuschat/gatekeeper/internal/security"
)

// AdminSessions issues opaque bearer tokens for the operations dashboard.
// Only a peppered digest of each token touches storage, so a database leak
// does not yield usable credentials.
type AdminSessions struct {
	sessions   repository.AdminSessionRepository
	secretHash string
	pepper     string
	ttl        time.Duration
	now        func() time.Time
}

func NewAdminSessions(sessions repository.AdminSessionRepository, secretHash, pepper string, ttl time.Duration) *AdminSessions {
	return &AdminSessions{
		sessions:   sessions,
		secretHash: secretHash,
		pepper:     pepper,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Login checks the shared admin secret and mints a fresh session. The raw
// token is returned exactly once; afterwards only its hash exists.
func (s *AdminSessions) Login(ctx context.Context, secret, userAgent, ip string) (string, *domain.AdminSession, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(s.secretHash), []byte(secret)); err != nil {
		observability.RecordAdminSessionEvent(ctx, "login", "rejected")
		return "", nil, domain.ErrUnauthenticated
	}

	token, err := security.NewSessionToken()
	if err != nil {
		observability.RecordAdminSessionEvent(ctx, "login", "error")
		return "", nil, err
	}

	now := s.now()
	session := &domain.AdminSession{
		TokenHash: security.HashSessionToken(token, s.pepper),
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.sessions.Create(session); err != nil {
		observability.RecordAdminSessionEvent(ctx, "login", "error")
		return "", nil, domain.StorageError(err)
	}
	observability.RecordAdminSessionEvent(ctx, "login", "success")
	return token, session, nil
}

// IsValid reports whether the presented token maps to a live session. Unknown
// tokens are a plain false, not an error.
func (s *AdminSessions) IsValid(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	session, err := s.sessions.FindByTokenHash(security.HashSessionToken(token, s.pepper))
	if err != nil {
		if errors.Is(err, repository.ErrAdminSessionNotFound) {
			observability.RecordAdminSessionEvent(ctx, "validate", "not_found")
			return false, nil
		}
		observability.RecordAdminSessionEvent(ctx, "validate", "error")
		return false, domain.StorageError(err)
	}
	valid := session.Valid(s.now())
	if valid {
		observability.RecordAdminSessionEvent(ctx, "validate", "valid")
	} else {
		observability.RecordAdminSessionEvent(ctx, "validate", "stale")
	}
	return valid, nil
}

// Destroy revokes the session behind the token. Revoking a session that is
// already revoked, expired, or was never issued succeeds silently.
func (s *AdminSessions) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	changed, err := s.sessions.Revoke(security.HashSessionToken(token, s.pepper), s.now())
	if err != nil {
		observability.RecordAdminSessionEvent(ctx, "destroy", "error")
		return domain.StorageError(err)
	}
	if changed {
		observability.RecordAdminSessionEvent(ctx, "destroy", "revoked")
	} else {
		observability.RecordAdminSessionEvent(ctx, "destroy", "noop")
	}
	return nil
}

// Cleanup purges expired and revoked sessions and returns how many went. If
// the storage engine rejects the bulk delete, it falls back to enumerating
// stale rows and deleting them one by one.
func (s *AdminSessions) Cleanup(ctx context.Context) (int64, error) {
	now := s.now()
	removed, err := s.sessions.DeleteStale(now)
	if err == nil {
		observability.RecordAdminSessionEvent(ctx, "cleanup", "success")
		return removed, nil
	}

	stale, listErr := s.sessions.ListStale(now)
	if listErr != nil {
		observability.RecordAdminSessionEvent(ctx, "cleanup", "error")
		return 0, domain.StorageError(listErr)
	}
	var count int64
	for _, session := range stale {
		if delErr := s.sessions.DeleteByID(session.ID); delErr != nil {
			observability.RecordAdminSessionEvent(ctx, "cleanup", "partial")
			return count, domain.StorageError(delErr)
		}
		count++
	}
	observability.RecordAdminSessionEvent(ctx, "cleanup", "fallback_success")
	return count, nil
}

func (s *AdminSessions) ListSessions(ctx context.Context, page, pageSize int) (repository.PageResult[domain.AdminSession], error) {
	result, err := s.sessions.ListPaged(repository.PageRequest{Page: page, PageSize: pageSize})
	if err != nil {
		return repository.PageResult[domain.AdminSession]{}, domain.StorageError(err)
	}
	return result, nil
}
