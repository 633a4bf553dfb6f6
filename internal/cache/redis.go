// Package cache holds migrated documents in Redis so repeated loads of the same
// configuration at the same target version skip the migration run.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL applies when a non-positive TTL is configured.
const DefaultTTL = 10 * time.Minute

// Redis stores one hash per configuration key, with a field per target
// version holding the migrated JSON.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		client: client,
		prefix: "cfg:",
		ttl:    ttl,
	}
}

func (r *Redis) key(configKey string) string {
	return r.prefix + configKey
}

// Get returns the cached document for configKey at version.
func (r *Redis) Get(ctx context.Context, configKey, version string) ([]byte, bool, error) {
	data, err := r.client.HGet(ctx, r.key(configKey), version).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached document: %w", err)
	}
	return data, true, nil
}

// Put stores data for configKey at version and refreshes the TTL of the key.
func (r *Redis) Put(ctx context.Context, configKey, version string, data []byte) error {
	key := r.key(configKey)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, version, data)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache document: %w", err)
	}
	return nil
}

// Invalidate drops every cached version of configKey.
func (r *Redis) Invalidate(ctx context.Context, configKey string) error {
	if err := r.client.Del(ctx, r.key(configKey)).Err(); err != nil {
		return fmt.Errorf("invalidate cached document: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping checks if Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
