/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-backed cache for resolved scheduling policy
// and live stream lookups. A nil or disabled cache is a valid no-op.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

// DefaultTTL applies when Config.TTL is zero.
const DefaultTTL = 5 * time.Minute

// Key prefixes for Redis cache
const (
	KeyPolicy     = "grimnir:playout:policy:"      // + live_stream_id + ":" + slot name
	KeyLiveStream = "grimnir:playout:live_stream:" // + live_stream_id
)

// Config contains cache configuration.
type Config struct {
	TTL time.Duration

	// DisableOnError trips the circuit breaker on the first Redis error.
	DisableOnError bool
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New wraps client. The connection is checked once; an unreachable Redis
// yields a disabled cache rather than an error.
func New(client *redis.Client, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	c := &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}

	if client == nil {
		c.disabled = true
		return c
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis cache unavailable, running without caching")
		c.disabled = true
	}
	return c
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to redis error")
	}
}

func (c *Cache) get(ctx context.Context, name, key string, dest any) bool {
	if !c.IsAvailable() {
		return false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		telemetry.CacheRequestsTotal.WithLabelValues(name, "miss").Inc()
		return false
	}
	if err != nil {
		c.handleError(err, "get")
		telemetry.CacheRequestsTotal.WithLabelValues(name, "error").Inc()
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		telemetry.CacheRequestsTotal.WithLabelValues(name, "error").Inc()
		return false
	}

	telemetry.CacheRequestsTotal.WithLabelValues(name, "hit").Inc()
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// CachedPolicy is a resolved policy together with where it came from.
type CachedPolicy struct {
	Source string              `json:"source"`
	Policy models.PolicyConfig `json:"policy"`
}

// GetPolicy returns the cached effective policy for a stream and slot name.
func (c *Cache) GetPolicy(ctx context.Context, liveStreamID, slotName string) (*CachedPolicy, bool) {
	var p CachedPolicy
	if !c.get(ctx, "policy", policyKey(liveStreamID, slotName), &p) {
		return nil, false
	}
	return &p, true
}

// SetPolicy caches the effective policy for a stream and slot name.
func (c *Cache) SetPolicy(ctx context.Context, liveStreamID, slotName string, p CachedPolicy) error {
	return c.set(ctx, policyKey(liveStreamID, slotName), p)
}

// InvalidatePolicies drops every cached policy of a live stream.
func (c *Cache) InvalidatePolicies(ctx context.Context, liveStreamID string) error {
	if !c.IsAvailable() {
		return nil
	}
	c.logger.Debug().Str("live_stream_id", liveStreamID).Msg("invalidating policy cache")
	return c.deletePattern(ctx, KeyPolicy+liveStreamID+":*")
}

// GetLiveStream returns a cached live stream.
func (c *Cache) GetLiveStream(ctx context.Context, liveStreamID string) (*models.LiveStream, bool) {
	var ls models.LiveStream
	if !c.get(ctx, "live_stream", KeyLiveStream+liveStreamID, &ls) {
		return nil, false
	}
	return &ls, true
}

// SetLiveStream caches a live stream.
func (c *Cache) SetLiveStream(ctx context.Context, ls *models.LiveStream) error {
	return c.set(ctx, KeyLiveStream+ls.ID, ls)
}

// InvalidateLiveStream drops a cached live stream and its policies.
func (c *Cache) InvalidateLiveStream(ctx context.Context, liveStreamID string) error {
	if err := c.deletePattern(ctx, KeyLiveStream+liveStreamID); err != nil {
		return err
	}
	return c.InvalidatePolicies(ctx, liveStreamID)
}

func policyKey(liveStreamID, slotName string) string {
	return KeyPolicy + liveStreamID + ":" + slotName
}
