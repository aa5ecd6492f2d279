/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package slotconfig resolves the fill policy that applies to a slot.
package slotconfig

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/grimnir_playout/internal/cache"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/playouterr"
)

// Where an effective config came from.
const (
	SourceSlot   = "slot"
	SourceStream = "stream"
)

// EffectiveConfig is the single resolved policy used by fill and push.
type EffectiveConfig struct {
	SlotLength    time.Duration
	AdConfig      models.AdConfig
	ContentConfig models.ContentConfig
	Fillers       models.FillerConfig
	Source        string
}

// AdAfterDuration returns the duration threshold of the ad break trigger.
func (c EffectiveConfig) AdAfterDuration() time.Duration {
	return time.Duration(c.AdConfig.AdAfter.Duration) * time.Second
}

func fromPolicy(p models.PolicyConfig, source string) EffectiveConfig {
	return EffectiveConfig{
		SlotLength:    time.Duration(p.SlotLength) * time.Second,
		AdConfig:      p.AdConfig,
		ContentConfig: p.ContentConfig,
		Fillers:       p.Fillers,
		Source:        source,
	}
}

// Resolver looks up slot configs and stream defaults, caching the result.
type Resolver struct {
	db     *gorm.DB
	cache  *cache.Cache
	bus    events.Publisher
	logger zerolog.Logger
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(db *gorm.DB, c *cache.Cache, bus events.Publisher, logger zerolog.Logger) *Resolver {
	if bus == nil {
		bus = events.Discard{}
	}
	return &Resolver{db: db, cache: c, bus: bus, logger: logger.With().Str("component", "slot_config").Logger()}
}

// Resolve returns the slot config named slotName for the stream, falling back
// to the stream's default config.
func (r *Resolver) Resolve(ctx context.Context, liveStreamID, slotName string) (EffectiveConfig, error) {
	if cached, ok := r.cache.GetPolicy(ctx, liveStreamID, slotName); ok {
		return fromPolicy(cached.Policy, cached.Source), nil
	}

	var sc models.SlotConfig
	err := r.db.WithContext(ctx).
		Where("live_stream_id = ? AND name = ?", liveStreamID, slotName).
		First(&sc).Error
	switch {
	case err == nil:
		r.remember(ctx, liveStreamID, slotName, sc.Config, SourceSlot)
		return fromPolicy(sc.Config, SourceSlot), nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return EffectiveConfig{}, playouterr.Store(err, "load slot config")
	}

	stream, err := r.LiveStream(ctx, liveStreamID)
	if err != nil {
		return EffectiveConfig{}, err
	}
	if stream.DefaultConfig == nil {
		return EffectiveConfig{}, playouterr.New(playouterr.ConfigurationMissing,
			"no slot config %q and no default config for live stream %s", slotName, liveStreamID)
	}

	r.remember(ctx, liveStreamID, slotName, *stream.DefaultConfig, SourceStream)
	return fromPolicy(*stream.DefaultConfig, SourceStream), nil
}

// LiveStream loads a live stream through the cache.
func (r *Resolver) LiveStream(ctx context.Context, liveStreamID string) (*models.LiveStream, error) {
	if ls, ok := r.cache.GetLiveStream(ctx, liveStreamID); ok {
		return ls, nil
	}
	var ls models.LiveStream
	if err := r.db.WithContext(ctx).First(&ls, "id = ?", liveStreamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, playouterr.New(playouterr.NotFound, "live stream %s not found", liveStreamID)
		}
		return nil, playouterr.Store(err, "load live stream")
	}
	if err := r.cache.SetLiveStream(ctx, &ls); err != nil {
		r.logger.Debug().Err(err).Msg("cache live stream")
	}
	return &ls, nil
}

// Get returns a stored slot config by name.
func (r *Resolver) Get(ctx context.Context, liveStreamID, name string) (*models.SlotConfig, error) {
	var sc models.SlotConfig
	err := r.db.WithContext(ctx).Where("live_stream_id = ? AND name = ?", liveStreamID, name).First(&sc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, playouterr.New(playouterr.NotFound, "slot config %q not found", name)
	}
	if err != nil {
		return nil, playouterr.Store(err, "load slot config")
	}
	return &sc, nil
}

// Upsert stores a named slot config and drops cached policies of the stream.
func (r *Resolver) Upsert(ctx context.Context, liveStreamID, name string, policy models.PolicyConfig) (*models.SlotConfig, error) {
	if err := Validate(policy); err != nil {
		return nil, err
	}
	if _, err := r.LiveStream(ctx, liveStreamID); err != nil {
		return nil, err
	}

	sc := models.SlotConfig{ID: uuid.NewString(), LiveStreamID: liveStreamID, Name: name, Config: policy}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "live_stream_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"config", "updated_at"}),
	}).Create(&sc).Error
	if err != nil {
		return nil, playouterr.Store(err, "upsert slot config")
	}

	if err := r.cache.InvalidatePolicies(ctx, liveStreamID); err != nil {
		r.logger.Warn().Err(err).Str("live_stream_id", liveStreamID).Msg("failed to invalidate policy cache")
	}
	r.bus.Publish(events.EventConfigUpdated, events.Payload{"live_stream_id": liveStreamID, "name": name})

	return r.Get(ctx, liveStreamID, name)
}

// SetStreamDefault replaces the stream-wide default policy.
func (r *Resolver) SetStreamDefault(ctx context.Context, liveStreamID string, policy models.PolicyConfig) error {
	if err := Validate(policy); err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&models.LiveStream{ID: liveStreamID}).
		Select("default_config").
		Updates(&models.LiveStream{DefaultConfig: &policy})
	if res.Error != nil {
		return playouterr.Store(res.Error, "update stream default config")
	}
	if res.RowsAffected == 0 {
		return playouterr.New(playouterr.NotFound, "live stream %s not found", liveStreamID)
	}
	if err := r.cache.InvalidateLiveStream(ctx, liveStreamID); err != nil {
		r.logger.Warn().Err(err).Str("live_stream_id", liveStreamID).Msg("failed to invalidate live stream cache")
	}
	r.bus.Publish(events.EventConfigUpdated, events.Payload{"live_stream_id": liveStreamID, "name": ""})
	return nil
}

// Validate rejects policies the timeline builder cannot act on.
func Validate(p models.PolicyConfig) error {
	if p.SlotLength <= 0 {
		return playouterr.New(playouterr.InvalidTimePeriod, "slot_length must be positive")
	}
	ac := p.AdConfig
	if !ac.Ads {
		return nil
	}
	switch ac.AdBasedOn {
	case models.AdBasedOnDuration:
		if ac.AdAfter.Duration <= 0 {
			return playouterr.New(playouterr.InvalidTimePeriod, "ad_after.duration must be positive")
		}
	case models.AdBasedOnPrograms:
		if ac.AdAfter.Programs <= 0 {
			return playouterr.New(playouterr.InvalidTimePeriod, "ad_after.programs must be positive")
		}
	default:
		return playouterr.New(playouterr.InvalidTimePeriod, "ad_based_on must be %q or %q", models.AdBasedOnDuration, models.AdBasedOnPrograms)
	}
	if ac.NoAdsPerBreak < 0 || ac.PromosPerBreak < 0 {
		return playouterr.New(playouterr.InvalidTimePeriod, "ads and promos per break cannot be negative")
	}
	return nil
}

func (r *Resolver) remember(ctx context.Context, liveStreamID, slotName string, p models.PolicyConfig, source string) {
	if err := r.cache.SetPolicy(ctx, liveStreamID, slotName, cache.CachedPolicy{Source: source, Policy: p}); err != nil {
		r.logger.Debug().Err(err).Msg("cache policy")
	}
}
