package pipeline

import (
	"context"
	"time"

	"chatflow_backend/platform/apperr"

	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix  = "chatflow:inbound:"
	DefaultDedupeTTL = 24 * time.Hour
)

// Deduper remembers which gateway message ids were already accepted.
type Deduper interface {
	// FirstSeen claims id and reports whether this call was the first.
	FirstSeen(ctx context.Context, id string) (bool, error)
	// Forget releases a claim so a failed delivery can be retried.
	Forget(ctx context.Context, id string) error
}

// RedisDeduper claims ids with SETNX and lets them expire after ttl.
type RedisDeduper struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisDeduper(rdb redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, dedupeKeyPrefix+id, time.Now().UTC().Unix(), d.ttl).Result()
	if err != nil {
		return false, apperr.Unavailable("claim inbound message id", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Forget(ctx context.Context, id string) error {
	if err := d.rdb.Del(ctx, dedupeKeyPrefix+id).Err(); err != nil {
		return apperr.Unavailable("release inbound message id", err)
	}
	return nil
}
