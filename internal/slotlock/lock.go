/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package slotlock serializes mutating operations on one slot or live stream.
package slotlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

const (
	keyPrefix            = "grimnir:playout:lock:"
	defaultTTL           = 30 * time.Second
	defaultRetryInterval = 50 * time.Millisecond
)

// ErrNotHeld is returned when a lock expired before it was released.
var ErrNotHeld = errors.New("lock no longer held")

// Locker hands out exclusive locks by key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// SlotKey is the lock key for a slot.
func SlotKey(slotID string) string { return "slot:" + slotID }

// StreamKey is the lock key for a live stream's slot list.
func StreamKey(liveStreamID string) string { return "stream:" + liveStreamID }

// Local is an in-process Locker backed by one mutex per key.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*localEntry)}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()

	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &localEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e, false)
		return nil, ctx.Err()
	}
	telemetry.SlotLockWaitDuration.Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() { once.Do(func() { l.release(key, e, true) }) }, nil
}

func (l *Local) release(key string, e *localEntry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Redis layers a Redis SET NX lease on top of the in-process lock so several
// instances sharing one database also serialize on the same slot.
type Redis struct {
	client        *redis.Client
	local         *Local
	ttl           time.Duration
	retryInterval time.Duration
	logger        zerolog.Logger
}

// NewRedis creates a distributed locker. ttl bounds how long a crashed holder
// can block others; a live holder extends its lease every ttl/3 until unlock.
func NewRedis(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{
		client:        client,
		local:         NewLocal(),
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
		logger:        logger.With().Str("component", "slot_lock").Logger(),
	}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Lock acquires the local lock, then polls SET NX until it wins or ctx ends.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := r.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	redisKey := keyPrefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(r.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			unlockLocal()
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go r.renew(redisKey, token, stop, renewed)

	var once sync.Once
	return func() {
		once.Do(func() {
			defer unlockLocal()
			close(stop)
			<-renewed
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Int()
			if err != nil {
				r.logger.Warn().Err(err).Str("key", key).Msg("failed to release lock")
				return
			}
			if n == 0 {
				r.logger.Warn().Err(ErrNotHeld).Str("key", key).Dur("ttl", r.ttl).Msg("lock expired before release")
			}
		})
	}, nil
}

// renew extends the lease until stop is closed or the key is no longer ours.
func (r *Redis) renew(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := r.ttl / 3
	if interval <= 0 {
		interval = r.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := extendScript.Run(ctx, r.client, []string{redisKey}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.logger.Warn().Err(err).Str("key", redisKey).Msg("failed to renew lock")
				continue
			}
			if n == 0 {
				r.logger.Warn().Err(ErrNotHeld).Str("key", redisKey).Msg("lock lost before renewal")
				return
			}
		}
	}
}
