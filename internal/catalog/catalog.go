/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog reads schedulable assets and splits them into the pools
// the timeline builder draws from.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// DefaultPromoWindow bounds how old a time-sensitive promo asset may be.
const DefaultPromoWindow = 2 * time.Hour

var (
	adCategories      = []string{"ad", "ads"}
	musicFallback     = []string{"music"}
	sceneFallback     = []string{"scene", "scenes"}
	timeSensitiveType = "tweet"
)

// Query scopes a catalog read.
type Query struct {
	MediaSpaceID string
	Content      models.ContentConfig
	Fillers      models.FillerConfig
	PromoWindow  time.Duration // zero uses DefaultPromoWindow
	Now          time.Time     // zero uses time.Now
}

// Pools are the candidate lists for one fill. A single asset may appear in
// more than one pool; each pool is ordered by creation time.
type Pools struct {
	Content []models.Asset
	Ads     []models.Asset
	Fillers []models.Asset
	Promos  []models.Asset
}

// Reader loads assets through gorm.
type Reader struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewReader creates a catalog reader.
func NewReader(db *gorm.DB, logger zerolog.Logger) *Reader {
	return &Reader{db: db, logger: logger.With().Str("component", "catalog").Logger()}
}

// Completed returns every playable asset of a media space.
func (r *Reader) Completed(ctx context.Context, mediaSpaceID string) ([]models.Asset, error) {
	var assets []models.Asset
	err := r.db.WithContext(ctx).
		Where("media_space_id = ?", mediaSpaceID).
		Where("encode_status = ?", models.EncodeStatusComplete).
		Order("created_at ASC, id ASC").
		Find(&assets).Error
	if err != nil {
		return nil, fmt.Errorf("load completed assets: %w", err)
	}
	return assets, nil
}

// Load reads the completed assets of q.MediaSpaceID and partitions them.
func (r *Reader) Load(ctx context.Context, q Query) (Pools, error) {
	assets, err := r.Completed(ctx, q.MediaSpaceID)
	if err != nil {
		return Pools{}, err
	}
	pools := Partition(assets, q)
	r.logger.Debug().
		Str("media_space_id", q.MediaSpaceID).
		Int("content", len(pools.Content)).
		Int("ads", len(pools.Ads)).
		Int("fillers", len(pools.Fillers)).
		Int("promos", len(pools.Promos)).
		Msg("catalog loaded")
	return pools, nil
}

// Get returns one asset regardless of encode status.
func (r *Reader) Get(ctx context.Context, id string) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).First(&asset, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

// ByID returns the assets with the given ids keyed by id, regardless of
// encode status. Missing ids are simply absent from the map.
func (r *Reader) ByID(ctx context.Context, ids []string) (map[string]models.Asset, error) {
	out := make(map[string]models.Asset, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var assets []models.Asset
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("load assets by id: %w", err)
	}
	for _, a := range assets {
		out[a.ID] = a
	}
	return out, nil
}

// Partition splits completed assets into content, ad, filler and promo pools.
// Assets without a playable duration are dropped.
func Partition(assets []models.Asset, q Query) Pools {
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	window := q.PromoWindow
	if window <= 0 {
		window = DefaultPromoWindow
	}
	cutoff := now.Add(-window)

	var pools Pools
	playable := make([]models.Asset, 0, len(assets))
	for _, a := range assets {
		if !a.Playable() || a.Length() <= 0 {
			continue
		}
		playable = append(playable, a)

		if IsAd(a) {
			pools.Ads = append(pools.Ads, a)
			continue
		}
		if a.RecencyAt != nil && !a.RecencyAt.Before(cutoff) && !a.RecencyAt.After(now) {
			pools.Promos = append(pools.Promos, a)
			continue
		}
		if strings.EqualFold(a.Type, timeSensitiveType) {
			// Stale time-sensitive assets are never scheduled as content.
			continue
		}
		if matchesContent(a, q.Content) {
			pools.Content = append(pools.Content, a)
		}
	}
	pools.Fillers = FillerPool(playable, q.Fillers)
	return pools
}

// FillerPool applies the filler rule: configured categories or tags, else the
// "music" category, else "scene"/"scenes".
func FillerPool(assets []models.Asset, cfg models.FillerConfig) []models.Asset {
	if len(cfg.Categories) > 0 || len(cfg.Tags) > 0 {
		if pool := filter(assets, func(a models.Asset) bool {
			return !IsAd(a) && (containsFold(cfg.Categories, a.Category) || hasAnyTag(a, cfg.Tags))
		}); len(pool) > 0 {
			return pool
		}
	}
	if pool := byCategory(assets, musicFallback); len(pool) > 0 {
		return pool
	}
	return byCategory(assets, sceneFallback)
}

// IsAd reports whether the asset belongs to the ad pool.
func IsAd(a models.Asset) bool {
	return containsFold(adCategories, a.Category)
}

func matchesContent(a models.Asset, cfg models.ContentConfig) bool {
	if len(cfg.Categories) > 0 && !containsFold(cfg.Categories, a.Category) {
		return false
	}
	if len(cfg.Tags.Include) > 0 && !hasAnyTag(a, cfg.Tags.Include) {
		return false
	}
	if hasAnyTag(a, cfg.Tags.Exclude) {
		return false
	}
	return true
}

func byCategory(assets []models.Asset, categories []string) []models.Asset {
	return filter(assets, func(a models.Asset) bool {
		return !IsAd(a) && containsFold(categories, a.Category)
	})
}

func filter(assets []models.Asset, keep func(models.Asset) bool) []models.Asset {
	var out []models.Asset
	for _, a := range assets {
		if a.Length() > 0 && keep(a) {
			out = append(out, a)
		}
	}
	return out
}

func hasAnyTag(a models.Asset, tags []string) bool {
	for _, want := range tags {
		for _, have := range a.Tags {
			if strings.EqualFold(strings.TrimSpace(have), strings.TrimSpace(want)) {
				return true
			}
		}
	}
	return false
}

func containsFold(values []string, candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), candidate) {
			return true
		}
	}
	return false
}
