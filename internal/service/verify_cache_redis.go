package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisVerifyCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisVerifyCacheStore(client redis.UniversalClient, prefix string) *RedisVerifyCacheStore {
	if prefix == "" {
		prefix = "verify_cache"
	}
	return &RedisVerifyCacheStore{client: client, prefix: prefix}
}

func (s *RedisVerifyCacheStore) Get(ctx context.Context, token string) (string, bool, error) {
	if s.client == nil {
		return "", false, nil
	}
	identityID, err := s.client.Get(ctx, s.dataKey(token)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return identityID, true, nil
}

func (s *RedisVerifyCacheStore) Set(ctx context.Context, token, identityID string, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.dataKey(token), identityID, ttl).Err()
}

func (s *RedisVerifyCacheStore) dataKey(token string) string {
	return fmt.Sprintf("%s:%s", s.prefix, hashToken(token))
}
