package revocation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps one key per revoked jti; the key TTL does the pruning.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedis constructs a Redis-backed store. An empty prefix defaults to "rv:".
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "rv:"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

// NewRedisFromURL parses a redis:// URL, connects and pings it.
func NewRedisFromURL(ctx context.Context, url, prefix string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("revocation: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("revocation: ping redis: %w", err)
	}
	return NewRedis(rdb, prefix), nil
}

func (r *Redis) key(tokenID string) string { return r.prefix + tokenID }

// Revoke stores the jti with a TTL reaching past the token's natural expiry.
// SET NX keeps the first entry and tells the caller whether it won.
func (r *Redis) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	ttl := time.Until(expiresAt)
	if ttl < 0 {
		ttl = 0
	}
	ttl += Grace
	now := strconv.FormatInt(time.Now().Unix(), 10)
	created, err := r.rdb.SetNX(ctx, r.key(tokenID), now, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("revocation: redis set: %w", err)
	}
	return created, nil
}

// IsRevoked checks key existence.
func (r *Redis) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("revocation: redis exists: %w", err)
	}
	return n > 0, nil
}

// Prune is a no-op: Redis expires the keys itself.
func (r *Redis) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

// Close closes the underlying client.
func (r *Redis) Close() error { return r.rdb.Close() }
