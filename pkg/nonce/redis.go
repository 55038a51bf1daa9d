package nonce

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger uses SETNX as the atomic check-and-set. A TTL bounds storage
// for high-volume pipelines (worker results); approvals should use a TTL
// comfortably longer than any approval's expiry window.
type RedisLedger struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLedger(rdb *redis.Client, prefix string, ttl time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = "trust:nonce:"
	}
	return &RedisLedger{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (l *RedisLedger) Consume(ctx context.Context, nonce string, at time.Time) error {
	ok, err := l.rdb.SetNX(ctx, l.prefix+nonce, at.UTC().Format(time.RFC3339Nano), l.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrReplay
	}
	return nil
}
