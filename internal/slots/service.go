/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package slots manages slot windows and the programs scheduled inside them.
package slots

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/adselect"
	"github.com/friendsincode/grimnir_playout/internal/catalog"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/playouterr"
	"github.com/friendsincode/grimnir_playout/internal/slotconfig"
	"github.com/friendsincode/grimnir_playout/internal/slotlock"
	"github.com/friendsincode/grimnir_playout/internal/timeline"
)

// Slot duration bounds.
const (
	MinSlotDuration = time.Hour
	MaxSlotDuration = 3 * time.Hour
)

// DefaultSlotName names slots created for streams without a default.
const DefaultSlotName = "default"

// Options tune a Service. Zero values pick defaults.
type Options struct {
	NextSlotLookahead  time.Duration
	PromoRecencyWindow time.Duration
	// RandomSeed makes every fill draw the same sequence; zero seeds from the clock.
	RandomSeed int64
	Now        func() time.Time
}

// Service owns slot and program mutations. Mutations are serialized per slot
// (and per stream for slot creation) through the locker.
type Service struct {
	db          *gorm.DB
	catalog     *catalog.Reader
	configs     *slotconfig.Resolver
	builder     *timeline.Builder
	locks       slotlock.Locker
	bus         events.Publisher
	logger      zerolog.Logger
	lookahead   time.Duration
	promoWindow time.Duration
	seed        int64
	now         func() time.Time
}

// New constructs the slot service. locks and bus may be nil.
func New(db *gorm.DB, reader *catalog.Reader, configs *slotconfig.Resolver, locks slotlock.Locker, bus events.Publisher, opts Options, logger zerolog.Logger) *Service {
	if locks == nil {
		locks = slotlock.NewLocal()
	}
	if bus == nil {
		bus = events.Discard{}
	}
	if opts.NextSlotLookahead <= 0 {
		opts.NextSlotLookahead = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger = logger.With().Str("component", "slots").Logger()
	return &Service{
		db:          db,
		catalog:     reader,
		configs:     configs,
		builder:     timeline.NewBuilder(logger),
		locks:       locks,
		bus:         bus,
		logger:      logger,
		lookahead:   opts.NextSlotLookahead,
		promoWindow: opts.PromoRecencyWindow,
		seed:        opts.RandomSeed,
		now:         opts.Now,
	}
}

// Configs exposes the resolver used by the service.
func (s *Service) Configs() *slotconfig.Resolver {
	return s.configs
}

// Catalog exposes the asset reader used by the service.
func (s *Service) Catalog() *catalog.Reader {
	return s.catalog
}

// NewRand returns the random source for one invocation.
func (s *Service) NewRand() *rand.Rand {
	if s.seed != 0 {
		return rand.New(rand.NewSource(s.seed))
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// LockSlot serializes work on one slot.
func (s *Service) LockSlot(ctx context.Context, slotID string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, slotlock.SlotKey(slotID))
	if err != nil {
		return nil, playouterr.Wrap(playouterr.StoreFailure, err, "lock slot %s", slotID)
	}
	return unlock, nil
}

func (s *Service) lockStream(ctx context.Context, liveStreamID string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, slotlock.StreamKey(liveStreamID))
	if err != nil {
		return nil, playouterr.Wrap(playouterr.StoreFailure, err, "lock live stream %s", liveStreamID)
	}
	return unlock, nil
}

func (s *Service) publish(eventType events.EventType, slot *models.Slot, extra events.Payload) {
	payload := events.Payload{
		"slot_id":        slot.ID,
		"live_stream_id": slot.LiveStreamID,
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.bus.Publish(eventType, payload)
}

// GetSlot loads a slot.
func (s *Service) GetSlot(ctx context.Context, slotID string) (*models.Slot, error) {
	return loadSlot(ctx, s.db, slotID)
}

func loadSlot(ctx context.Context, db *gorm.DB, slotID string) (*models.Slot, error) {
	var slot models.Slot
	if err := db.WithContext(ctx).First(&slot, "id = ?", slotID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, playouterr.New(playouterr.NotFound, "slot %s not found", slotID)
		}
		return nil, playouterr.Store(err, "load slot")
	}
	return &slot, nil
}

func loadPrograms(ctx context.Context, db *gorm.DB, slotID string) ([]models.Program, error) {
	var programs []models.Program
	if err := db.WithContext(ctx).
		Where("slot_id = ?", slotID).
		Order("start_at ASC").
		Find(&programs).Error; err != nil {
		return nil, playouterr.Store(err, "load programs")
	}
	return programs, nil
}

// fillInputs gathers the pools and the ad selector for one build.
func (s *Service) fillInputs(ctx context.Context, slot *models.Slot, cfg slotconfig.EffectiveConfig, rng *rand.Rand) (catalog.Pools, *adselect.Selector, error) {
	pools, err := s.catalog.Load(ctx, catalog.Query{
		MediaSpaceID: slot.MediaSpaceID,
		Content:      cfg.ContentConfig,
		Fillers:      cfg.Fillers,
		PromoWindow:  s.promoWindow,
		Now:          s.now(),
	})
	if err != nil {
		return catalog.Pools{}, nil, playouterr.Store(err, "load catalog")
	}

	var selector *adselect.Selector
	if cfg.AdConfig.Ads {
		campaigns, err := adselect.LoadCampaigns(ctx, s.db, slot.LiveStreamID, slot.ID,
			cfg.AdConfig.DefaultAdCampaigns, models.CampaignAd, models.CampaignPromo)
		if err != nil {
			return catalog.Pools{}, nil, playouterr.Store(err, "load campaigns")
		}
		ids := make([]string, 0, len(campaigns))
		for _, c := range campaigns {
			ids = append(ids, c.AssetID)
		}
		assets, err := s.catalog.ByID(ctx, ids)
		if err != nil {
			return catalog.Pools{}, nil, playouterr.Store(err, "load campaign assets")
		}
		selector = adselect.New(campaigns, pools.Ads, pools.Promos, assets, rng)
	}
	return pools, selector, nil
}
