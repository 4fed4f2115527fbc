package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// VerifyCacheStore remembers recently verified credentials so hot identities
// do not cost a provider round-trip per interaction. Entries are keyed by a
// token digest; the raw credential is never stored.
type VerifyCacheStore interface {
	Get(ctx context.Context, token string) (string, bool, error)
	Set(ctx context.Context, token, identityID string, ttl time.Duration) error
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type NoopVerifyCacheStore struct{}

func NewNoopVerifyCacheStore() *NoopVerifyCacheStore { return &NoopVerifyCacheStore{} }

func (s *NoopVerifyCacheStore) Get(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (s *NoopVerifyCacheStore) Set(context.Context, string, string, time.Duration) error {
	return nil
}

type memoryVerifyEntry struct {
	identityID string
	expiresAt  time.Time
}

type InMemoryVerifyCacheStore struct {
	mu    sync.RWMutex
	store map[string]memoryVerifyEntry
}

func NewInMemoryVerifyCacheStore() *InMemoryVerifyCacheStore {
	return &InMemoryVerifyCacheStore{store: make(map[string]memoryVerifyEntry)}
}

func (s *InMemoryVerifyCacheStore) Get(_ context.Context, token string) (string, bool, error) {
	key := hashToken(token)
	s.mu.RLock()
	entry, ok := s.store[key]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		if current, still := s.store[key]; still && current.expiresAt.Equal(entry.expiresAt) {
			delete(s.store, key)
		}
		s.mu.Unlock()
		return "", false, nil
	}
	return entry.identityID, true, nil
}

func (s *InMemoryVerifyCacheStore) Set(_ context.Context, token, identityID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[hashToken(token)] = memoryVerifyEntry{
		identityID: identityID,
		expiresAt:  time.Now().Add(ttl),
	}
	return nil
}
