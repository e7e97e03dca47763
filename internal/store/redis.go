package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses url, connects and pings before returning.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

// RedisTier stores all fields in a single Redis hash.
type RedisTier struct {
	name   string
	client redis.Cmdable
	key    string
}

// NewRedisTier returns a tier using the hash at key.
func NewRedisTier(name string, client redis.Cmdable, key string) *RedisTier {
	return &RedisTier{name: name, client: client, key: key}
}

func (r *RedisTier) Name() string { return r.name }

func (r *RedisTier) Get(ctx context.Context, field string) (string, bool, error) {
	v, err := r.client.HGet(ctx, r.key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s %s: %w", r.key, field, err)
	}
	return v, true, nil
}

func (r *RedisTier) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, 2*len(values))
	for k, v := range values {
		args = append(args, k, v)
	}
	if err := r.client.HSet(ctx, r.key, args...).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisTier) Delete(ctx context.Context, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, r.key, fields...).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisTier) Snapshot(ctx context.Context) (map[string]string, error) {
	m, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", r.key, err)
	}
	return m, nil
}
