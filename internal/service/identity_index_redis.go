package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	indexFieldName   = "name"
	indexFieldAccess = "access"
)

// recordAccessScript bumps the access field of an existing entry, keeping the larger value.
var recordAccessScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local current = tonumber(redis.call("HGET", KEYS[1], "access") or "0")
local at = tonumber(ARGV[1])
if at > current then
  redis.call("HSET", KEYS[1], "access", ARGV[1])
  return 1
end
return 0
`)

type RedisIdentityIndex struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisIdentityIndex(client redis.UniversalClient, prefix string) *RedisIdentityIndex {
	if prefix == "" {
		prefix = "sid_index"
	}
	return &RedisIdentityIndex{
		client: client,
		prefix: prefix,
	}
}

func (x *RedisIdentityIndex) Upsert(ctx context.Context, sessionID, identityName string) error {
	if x.client == nil {
		return nil
	}
	pipe := x.client.TxPipeline()
	pipe.HSet(ctx, x.entryKey(sessionID), indexFieldName, identityName)
	pipe.SAdd(ctx, x.membersKey(), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

func (x *RedisIdentityIndex) Remove(ctx context.Context, sessionID string) error {
	if x.client == nil {
		return nil
	}
	pipe := x.client.TxPipeline()
	pipe.Del(ctx, x.entryKey(sessionID))
	pipe.SRem(ctx, x.membersKey(), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

func (x *RedisIdentityIndex) Touch(ctx context.Context, sessionID string) (int64, bool, error) {
	if x.client == nil {
		return 0, false, nil
	}
	raw, err := x.client.HGet(ctx, x.entryKey(sessionID), indexFieldAccess).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	at, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return at, at > 0, nil
}

func (x *RedisIdentityIndex) RecordAccess(ctx context.Context, sessionID string, at int64) error {
	if x.client == nil {
		return nil
	}
	return recordAccessScript.Run(ctx, x.client, []string{x.entryKey(sessionID)}, at).Err()
}

func (x *RedisIdentityIndex) Lookup(ctx context.Context, sessionID string) (string, bool, error) {
	if x.client == nil {
		return "", false, nil
	}
	name, err := x.client.HGet(ctx, x.entryKey(sessionID), indexFieldName).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (x *RedisIdentityIndex) Load(ctx context.Context, entries []IndexEntry) (int, error) {
	if x.client == nil || len(entries) == 0 {
		return 0, nil
	}
	const batchSize = 500
	loaded := 0
	for start := 0; start < len(entries); start += batchSize {
		end := min(start+batchSize, len(entries))
		pipe := x.client.Pipeline()
		for _, e := range entries[start:end] {
			pipe.HSet(ctx, x.entryKey(e.SessionID), indexFieldName, e.IdentityName)
			pipe.SAdd(ctx, x.membersKey(), e.SessionID)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return loaded, err
		}
		loaded = end
	}
	return loaded, nil
}

// Members lists the indexed session ids.
func (x *RedisIdentityIndex) Members(ctx context.Context) ([]string, error) {
	if x.client == nil {
		return nil, nil
	}
	return x.client.SMembers(ctx, x.membersKey()).Result()
}

func (x *RedisIdentityIndex) Backend() string { return "redis" }

func (x *RedisIdentityIndex) entryKey(sessionID string) string {
	return x.prefix + ":sid:" + sessionID
}

func (x *RedisIdentityIndex) membersKey() string {
	return x.prefix + ":members"
}
