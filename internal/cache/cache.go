// Package cache provides Redis-backed caching for market data snapshots.
// When Redis is unavailable the cache degrades gracefully; callers fall
// back to fetching fresh data.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheUnavailable means Redis is down or circuit-broken.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrCacheMiss means the key is absent or expired.
	ErrCacheMiss = errors.New("cache miss")
)

// Store is the key-value surface higher-level caches build on.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	IsHealthy() bool
}

// Config holds Redis configuration.
type Config struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// CacheService is the Redis-backed Store with a failure circuit breaker.
// Three consecutive failures mark it unhealthy; any success recovers it.
type CacheService struct {
	client *redis.Client

	mu           sync.RWMutex
	healthy      bool
	failureCount int

	maxFailures int
	log         zerolog.Logger
}

// NewCacheService connects to Redis. A failed initial connection returns
// the service in degraded mode rather than an error.
func NewCacheService(cfg Config, logger zerolog.Logger) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	cs := &CacheService{
		client:      client,
		maxFailures: 3,
		log:         logger.With().Str("component", "cache").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		cs.log.Warn().Err(err).Msg("initial Redis connection failed, running degraded")
		return cs, nil
	}

	cs.healthy = true
	cs.log.Info().Str("address", cfg.Address).Msg("Redis connected")
	return cs, nil
}

// IsHealthy reports whether Redis is currently usable.
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			cs.log.Warn().Int("failures", cs.failureCount).Msg("circuit breaker open, Redis marked unhealthy")
		}
		cs.healthy = false
	}
}

func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy {
		cs.log.Info().Msg("circuit breaker closed, Redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
}

// Get fetches a key, returning ErrCacheMiss when absent.
func (cs *CacheService) Get(ctx context.Context, key string) (string, error) {
	value, err := cs.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		cs.recordSuccess()
		return "", ErrCacheMiss
	}
	if err != nil {
		cs.recordFailure()
		return "", fmt.Errorf("cache get %s: %w", key, err)
	}
	cs.recordSuccess()
	return value, nil
}

// Set stores a key with a TTL; ttl 0 means no expiry.
func (cs *CacheService) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := cs.client.Set(ctx, key, value, ttl).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	cs.recordSuccess()
	return nil
}

// Delete removes a key.
func (cs *CacheService) Delete(ctx context.Context, key string) error {
	if err := cs.client.Del(ctx, key).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	cs.recordSuccess()
	return nil
}

// Close releases the Redis client.
func (cs *CacheService) Close() error {
	return cs.client.Close()
}

var _ Store = (*CacheService)(nil)
