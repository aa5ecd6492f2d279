/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

func newTestReader(t *testing.T) (*Reader, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Asset{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return NewReader(db, zerolog.Nop()), db
}

func asset(id, category string, seconds int64, tags ...string) models.Asset {
	return models.Asset{
		ID:           id,
		MediaSpaceID: "ms1",
		Name:         id,
		Category:     category,
		Tags:         tags,
		EncodeStatus: models.EncodeStatusComplete,
		DurationMS:   seconds * 1000,
		Path:         "/media/" + id + ".mp4",
	}
}

func ids(assets []models.Asset) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.ID)
	}
	return out
}

func TestPartitionPools(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-30 * time.Minute)
	stale := now.Add(-5 * time.Hour)

	freshTweet := asset("tweet-fresh", "social", 20)
	freshTweet.Type = "tweet"
	freshTweet.RecencyAt = &fresh
	staleTweet := asset("tweet-stale", "social", 20)
	staleTweet.Type = "tweet"
	staleTweet.RecencyAt = &stale
	pending := asset("pending", "scene", 60)
	pending.EncodeStatus = "PROCESSING"

	assets := []models.Asset{
		asset("show-1", "Scene", 1800, "live"),
		asset("show-2", "scene", 1800, "rerun"),
		asset("ad-1", "AD", 30),
		asset("ad-2", "ads", 15),
		asset("song-1", "music", 200),
		asset("empty", "scene", 0),
		freshTweet,
		staleTweet,
		pending,
	}

	pools := Partition(assets, Query{
		Content: models.ContentConfig{
			Categories: []string{"scene"},
			Tags:       models.TagFilters{Exclude: []string{"rerun"}},
		},
		Now: now,
	})

	if got := ids(pools.Content); len(got) != 1 || got[0] != "show-1" {
		t.Fatalf("unexpected content pool %v", got)
	}
	if got := ids(pools.Ads); len(got) != 2 {
		t.Fatalf("unexpected ad pool %v", got)
	}
	if got := ids(pools.Promos); len(got) != 1 || got[0] != "tweet-fresh" {
		t.Fatalf("unexpected promo pool %v", got)
	}
	if got := ids(pools.Fillers); len(got) != 1 || got[0] != "song-1" {
		t.Fatalf("expected music fallback filler pool, got %v", got)
	}
}

func TestFillerPoolFallbacks(t *testing.T) {
	assets := []models.Asset{
		asset("scene-1", "scenes", 60),
		asset("bumper", "ident", 10, "filler"),
		asset("ad-1", "ad", 30),
	}

	if got := ids(FillerPool(assets, models.FillerConfig{Tags: []string{"filler"}})); len(got) != 1 || got[0] != "bumper" {
		t.Fatalf("expected configured filler tag to win, got %v", got)
	}
	if got := ids(FillerPool(assets, models.FillerConfig{Categories: []string{"nothing"}})); len(got) != 1 || got[0] != "scene-1" {
		t.Fatalf("expected scene fallback, got %v", got)
	}
	if got := FillerPool([]models.Asset{asset("ad-1", "ad", 30)}, models.FillerConfig{}); len(got) != 0 {
		t.Fatalf("ads must never be fillers, got %v", ids(got))
	}
}

func TestReaderLoadOnlyCompletedAssetsInMediaSpace(t *testing.T) {
	r, db := newTestReader(t)
	ctx := context.Background()

	other := asset("elsewhere", "scene", 60)
	other.MediaSpaceID = "ms2"
	pending := asset("pending", "scene", 60)
	pending.EncodeStatus = "PROCESSING"
	for _, a := range []models.Asset{asset("show-1", "scene", 60), other, pending, asset("song", "music", 60)} {
		a := a
		if err := db.Create(&a).Error; err != nil {
			t.Fatalf("create asset: %v", err)
		}
	}

	pools, err := r.Load(ctx, Query{MediaSpaceID: "ms1", Content: models.ContentConfig{Categories: []string{"scene"}}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := ids(pools.Content); len(got) != 1 || got[0] != "show-1" {
		t.Fatalf("unexpected content %v", got)
	}

	byID, err := r.ByID(ctx, []string{"pending", "missing"})
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if _, ok := byID["pending"]; !ok {
		t.Fatal("ByID should return assets regardless of encode status")
	}
	if _, ok := byID["missing"]; ok {
		t.Fatal("missing asset should be absent")
	}
}
