package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalrun/internal/models"
)

const redisKeyPrefix = "signalrun:"

// RedisTier mirrors the in-memory tier into Redis so price lookups survive
// process restarts and are shared across instances. Every failure degrades
// to a miss at WARN; Redis is never on the critical path.
type RedisTier struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTier connects a Redis-backed cache tier.
func NewRedisTier(addr, password string, db int, ttl time.Duration) *RedisTier {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})
	return &RedisTier{client: client, ttl: ttl}
}

// Get fetches a snapshot from Redis.
func (r *RedisTier) Get(ctx context.Context, key string) (models.PriceSnapshot, bool) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("key", key).Msg("redis cache read failed")
		}
		return models.PriceSnapshot{}, false
	}
	var snap models.PriceSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis cache entry corrupt")
		return models.PriceSnapshot{}, false
	}
	return snap, true
}

// Set stores a snapshot in Redis under the tier TTL.
func (r *RedisTier) Set(ctx context.Context, key string, snap models.PriceSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis cache marshal failed")
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, data, r.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis cache write failed")
	}
}

// Close releases the client. Idempotent; double-close is not an error.
func (r *RedisTier) Close() error {
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}
	return err
}
