package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisClient is the subset of *redis.Client used by the redis backend.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Redis stores entries in Redis with native key expiry.
type Redis struct {
	client RedisClient
}

// NewRedis wraps an existing client.
func NewRedis(client RedisClient) *Redis {
	return &Redis{client: client}
}

// NewRedisFromAddr opens a client for addr and checks connectivity.
func NewRedisFromAddr(addr, password string, db int) (*Redis, error) {
	if addr == "" {
		return nil, eris.New("cache: redis backend requires an address")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrapf(err, "cache: ping redis %s", addr)
	}
	return NewRedis(client), nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "cache: redis get %s", key)
	}
	return data, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return eris.Wrapf(err, "cache: redis set %s", key)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
