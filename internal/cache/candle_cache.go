// Package cache provides a Redis-backed candle cache with graceful
// degradation: when Redis is unavailable callers fall back to the
// exchange API and the bot keeps running.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bitvavo-trading-bot/config"
	"bitvavo-trading-bot/internal/bitvavo"
)

// DefaultCandleTTL bounds staleness of cached windows; one interval of
// drift is acceptable for signal evaluation
const DefaultCandleTTL = time.Minute

// CandleCache caches candle windows keyed by market and interval
type CandleCache struct {
	client  *redis.Client
	ttl     time.Duration
	mu      sync.RWMutex
	healthy bool
	logger  zerolog.Logger
}

// NewCandleCache connects to Redis. A failed initial connection returns
// the cache in degraded mode rather than an error.
func NewCandleCache(cfg config.RedisConfig, logger zerolog.Logger) (*CandleCache, error) {
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

	c := &CandleCache{
		client: client,
		ttl:    DefaultCandleTTL,
		logger: logger.With().Str("component", "candle_cache").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Redis unavailable, cache degraded")
		return c, nil
	}

	c.healthy = true
	c.logger.Info().Str("address", cfg.Address).Msg("Redis connected")
	return c, nil
}

// IsHealthy reports whether Redis answered the last operation
func (c *CandleCache) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// Get returns the cached window, or ok=false on miss or degraded Redis
func (c *CandleCache) Get(ctx context.Context, market, interval string) ([]bitvavo.Candle, bool) {
	data, err := c.client.Get(ctx, key(market, interval)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.setHealthy(false)
		c.logger.Debug().Err(err).Msg("Cache read failed")
		return nil, false
	}
	c.setHealthy(true)

	var candles []bitvavo.Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, false
	}
	return candles, true
}

// Put stores a candle window; failures only degrade the cache
func (c *CandleCache) Put(ctx context.Context, market, interval string, candles []bitvavo.Candle) {
	data, err := json.Marshal(candles)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(market, interval), data, c.ttl).Err(); err != nil {
		c.setHealthy(false)
		c.logger.Debug().Err(err).Msg("Cache write failed")
		return
	}
	c.setHealthy(true)
}

// Close releases the Redis connection pool
func (c *CandleCache) Close() error {
	return c.client.Close()
}

func (c *CandleCache) setHealthy(healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = healthy
}

func key(market, interval string) string {
	return fmt.Sprintf("candles:%s:%s", market, interval)
}
