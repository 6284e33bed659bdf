package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisMissingSessionCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisMissingSessionCache(client redis.UniversalClient, prefix string) *RedisMissingSessionCache {
	if prefix == "" {
		prefix = "missing_session"
	}
	return &RedisMissingSessionCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisMissingSessionCache) IsMissing(ctx context.Context, sessionID string) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	_, err := c.client.Get(ctx, c.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisMissingSessionCache) MarkMissing(ctx context.Context, sessionID string, ttl time.Duration) error {
	if c.client == nil || ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.key(sessionID), "1", ttl).Err()
}

func (c *RedisMissingSessionCache) Forget(ctx context.Context, sessionID string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(sessionID)).Err()
}

// key hashes the id so probed identifiers are never written to redis verbatim.
func (c *RedisMissingSessionCache) key(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return c.prefix + ":" + hex.EncodeToString(sum[:])
}
