/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return s, New(client, Config{TTL: time.Minute}, zerolog.Nop())
}

func TestPolicyRoundTripAndInvalidate(t *testing.T) {
	s, c := newTestCache(t)
	ctx := context.Background()

	if !c.IsAvailable() {
		t.Fatal("expected cache to be available")
	}
	if _, ok := c.GetPolicy(ctx, "ls1", "morning"); ok {
		t.Fatal("expected miss on empty cache")
	}

	want := CachedPolicy{Source: "slot", Policy: models.PolicyConfig{SlotLength: 3600}}
	if err := c.SetPolicy(ctx, "ls1", "morning", want); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	if err := c.SetPolicy(ctx, "ls2", "morning", want); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	got, ok := c.GetPolicy(ctx, "ls1", "morning")
	if !ok || got.Policy.SlotLength != 3600 || got.Source != "slot" {
		t.Fatalf("unexpected cached policy: %+v (ok=%v)", got, ok)
	}
	if ttl := s.TTL(policyKey("ls1", "morning")); ttl != time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	if err := c.InvalidatePolicies(ctx, "ls1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok := c.GetPolicy(ctx, "ls1", "morning"); ok {
		t.Fatal("expected invalidated policy to be gone")
	}
	if _, ok := c.GetPolicy(ctx, "ls2", "morning"); !ok {
		t.Fatal("other stream's policy should survive invalidation")
	}
}

func TestNilAndDisabledCacheAreNoOps(t *testing.T) {
	var nilCache *Cache
	if nilCache.IsAvailable() {
		t.Fatal("nil cache must not be available")
	}
	if _, ok := nilCache.GetLiveStream(context.Background(), "x"); ok {
		t.Fatal("nil cache must always miss")
	}

	c := New(nil, Config{}, zerolog.Nop())
	if err := c.SetLiveStream(context.Background(), &models.LiveStream{ID: "x"}); err != nil {
		t.Fatalf("disabled cache set should be a no-op, got %v", err)
	}
}

func TestCircuitBreakerTripsOnRedisError(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	c := New(client, Config{DisableOnError: true}, zerolog.Nop())
	s.Close()

	_ = c.SetLiveStream(context.Background(), &models.LiveStream{ID: "x"})
	if c.IsAvailable() {
		t.Fatal("expected cache to disable itself after a redis error")
	}
}
