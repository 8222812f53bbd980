package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "auth:blocked:"

// Blocklist remembers blocklisted access-token JTIs. It only ever holds
// positive entries; a miss means "ask the database".
type Blocklist interface {
	MarkBlocked(ctx context.Context, jti string, ttl time.Duration) error
	IsBlocked(ctx context.Context, jti string) (bool, error)
}

type RedisBlocklist struct {
	client *redis.Client
}

func NewRedisBlocklist(ctx context.Context, redisURL string) (*RedisBlocklist, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisBlocklist{client: client}, nil
}

func (r *RedisBlocklist) MarkBlocked(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, keyPrefix+jti, 1, ttl).Err()
}

func (r *RedisBlocklist) IsBlocked(ctx context.Context, jti string) (bool, error) {
	err := r.client.Get(ctx, keyPrefix+jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisBlocklist) Close() error {
	return r.client.Close()
}
