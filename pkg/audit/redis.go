package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shadowmesh/ddsauth/pkg/registry"
)

// RedisCache caches the most recent events per handle so a dashboard
// can show "last seen" state without hitting Postgres on every read.
type RedisCache struct {
	client *redis.Client
	ctx    context.Context
	ttl    time.Duration
}

// CacheConfig holds Redis configuration.
type CacheConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisCache creates a new Redis-backed recent-event cache.
func NewRedisCache(config CacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := config.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	log.Println("audit: Redis connection established")
	return &RedisCache{client: client, ctx: ctx, ttl: ttl}, nil
}

// CacheLastEvent stores e as the most recently seen event for its handle.
func (rc *RedisCache) CacheLastEvent(e Event) error {
	key := fmt.Sprintf("audit:last:%d", uint64(e.Handle))
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return rc.client.Set(rc.ctx, key, data, rc.ttl).Err()
}

// LastEvent retrieves the most recently cached event for a handle.
func (rc *RedisCache) LastEvent(h registry.Handle) (Event, error) {
	key := fmt.Sprintf("audit:last:%d", uint64(h))
	data, err := rc.client.Get(rc.ctx, key).Result()
	if err == redis.Nil {
		return Event{}, fmt.Errorf("no cached event for handle %d", h)
	}
	if err != nil {
		return Event{}, err
	}

	var e Event
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return e, nil
}

// IncrementCounter increments a named counter, e.g. "revocations".
func (rc *RedisCache) IncrementCounter(name string) error {
	return rc.client.Incr(rc.ctx, fmt.Sprintf("audit:counter:%s", name)).Err()
}

// Counter retrieves a named counter's current value.
func (rc *RedisCache) Counter(name string) (int64, error) {
	return rc.client.Get(rc.ctx, fmt.Sprintf("audit:counter:%s", name)).Int64()
}

// Close closes the Redis connection.
func (rc *RedisCache) Close() error {
	log.Println("audit: closing Redis connection")
	return rc.client.Close()
}

// Health checks if Redis is reachable.
func (rc *RedisCache) Health() error {
	return rc.client.Ping(rc.ctx).Err()
}
