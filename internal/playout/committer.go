/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playout commits slot timelines to the runner.
package playout

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/catalog"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/overlay"
	"github.com/friendsincode/grimnir_playout/internal/playouterr"
	"github.com/friendsincode/grimnir_playout/internal/runner"
	"github.com/friendsincode/grimnir_playout/internal/slotconfig"
	"github.com/friendsincode/grimnir_playout/internal/slots"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
	"github.com/friendsincode/grimnir_playout/internal/timeline"
)

// PathResolver turns an asset into a location the runner can read.
type PathResolver interface {
	PathFor(ctx context.Context, asset *models.Asset) (string, bool)
}

// AddedByPush attributes filler programs created while pushing.
const AddedByPush = "push"

// Result summarizes one push.
type Result struct {
	Slot        *models.Slot `json:"slot"`
	Entries     int          `json:"entries"`
	Fillers     int          `json:"fillers"`
	Skipped     int          `json:"skipped"`
	Substituted int          `json:"substituted"`
}

// Committer converts a slot's programs into the play-out snapshot, ships it
// to the runner and records the push.
type Committer struct {
	db      *gorm.DB
	slots   *slots.Service
	paths   PathResolver
	runner  runner.Notifier
	builder *timeline.Builder
	bus     events.Publisher
	logger  zerolog.Logger
	now     func() time.Time
}

// NewCommitter creates a committer. bus may be nil; now defaults to time.Now.
func NewCommitter(db *gorm.DB, slotSvc *slots.Service, paths PathResolver, notifier runner.Notifier, bus events.Publisher, now func() time.Time, logger zerolog.Logger) *Committer {
	if bus == nil {
		bus = events.Discard{}
	}
	if now == nil {
		now = time.Now
	}
	logger = logger.With().Str("component", "playout").Logger()
	return &Committer{
		db:      db,
		slots:   slotSvc,
		paths:   paths,
		runner:  notifier,
		builder: timeline.NewBuilder(logger),
		bus:     bus,
		logger:  logger,
		now:     now,
	}
}

// PushNext makes sure the next slot exists and has programs, then pushes it.
func (c *Committer) PushNext(ctx context.Context, liveStreamID string) (*Result, error) {
	slot, err := c.slots.CreateNextSlot(ctx, liveStreamID)
	if err != nil {
		return nil, err
	}
	filled, err := c.slots.AutoFillIfEmpty(ctx, slot.ID, AddedByPush)
	if err != nil {
		return nil, err
	}
	if filled {
		c.logger.Info().Str("slot_id", slot.ID).Msg("next slot was empty and has been filled")
	}
	return c.Push(ctx, slot.ID)
}

// resolved is an asset with the path the runner will read it from.
type resolved struct {
	asset models.Asset
	path  string
}

// Push commits the slot. It can be repeated: each run overwrites the
// previous snapshot, and a failed runner call leaves the slot untouched.
func (c *Committer) Push(ctx context.Context, slotID string) (res *Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "playout", "push")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"slot_id": slotID})
	defer func() {
		telemetry.RecordError(span, err)
		outcome := "ok"
		if err != nil {
			outcome = string(playouterr.KindOf(err))
		}
		telemetry.PushesTotal.WithLabelValues(outcome).Inc()
	}()

	unlock, err := c.slots.LockSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	slot, err := c.slots.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	stream, err := c.slots.Configs().LiveStream(ctx, slot.LiveStreamID)
	if err != nil {
		return nil, err
	}
	cfg, err := c.slots.Configs().Resolve(ctx, slot.LiveStreamID, slot.Name)
	switch {
	case playouterr.Is(err, playouterr.ConfigurationMissing):
		c.logger.Warn().Str("slot_id", slot.ID).Msg("no configuration, padding to the slot window")
		cfg = slotconfig.EffectiveConfig{SlotLength: slot.Duration()}
	case err != nil:
		return nil, err
	}

	programs, err := c.slots.ListPrograms(ctx, slot.ID)
	if err != nil {
		return nil, err
	}
	completed, err := c.slots.Catalog().Completed(ctx, slot.MediaSpaceID)
	if err != nil {
		return nil, playouterr.Store(err, "load catalog")
	}
	byID := make(map[string]models.Asset, len(completed))
	for _, a := range completed {
		byID[a.ID] = a
	}
	bugs, bugAssets, err := c.slots.BugOverlays(ctx, slot)
	if err != nil {
		return nil, err
	}

	rng := c.slots.NewRand()
	fillers := c.resolveAll(ctx, catalog.FillerPool(completed, cfg.Fillers))
	res = &Result{}

	entries := make([]models.PlayOutEntry, 0, len(programs))
	for _, p := range programs {
		asset, ok := byID[p.AssetID]
		if !ok {
			if p.Type == models.ProgramAd {
				telemetry.PlayOutEntriesSkipped.WithLabelValues("unresolvable_ad").Inc()
				res.Skipped++
				continue
			}
			subs := substitute(p, fillers, rng)
			if len(subs) == 0 {
				telemetry.PlayOutEntriesSkipped.WithLabelValues("unresolvable_content").Inc()
				res.Skipped++
				continue
			}
			entries = append(entries, subs...)
			res.Substituted++
			continue
		}
		path, ok := c.paths.PathFor(ctx, &asset)
		if !ok {
			telemetry.PlayOutEntriesSkipped.WithLabelValues("no_path").Inc()
			res.Skipped++
			continue
		}
		entries = append(entries, entryFor(p.StartAt, p.EndAt, asset, path, p.AssetStartMS, p.AssetEndMS, p.Type == models.ProgramAd))
	}

	padding := c.pad(slot, cfg, programs, entries, fillers, rng)
	for _, p := range padding {
		f := fillerAsset(fillers, p.AssetID)
		entries = append(entries, entryFor(p.StartAt, p.EndAt, f.asset, f.path, p.AssetStartMS, p.AssetEndMS, false))
	}
	res.Fillers = len(padding)
	res.Entries = len(entries)

	layout := overlay.Layout(slot, bugs, bugAssets)

	outgoing := *slot
	outgoing.PlayOut = entries
	outgoing.Overlays = layout
	if err := c.runner.GeneratePlaylist(ctx, stream.UserID, stream.ID, runner.NewPayload(&outgoing, stream.Username)); err != nil {
		c.logger.Error().Err(err).Str("slot_id", slot.ID).Msg("runner rejected playlist")
		c.bus.Publish(events.EventSlotPushFailed, events.Payload{
			"slot_id":        slot.ID,
			"live_stream_id": slot.LiveStreamID,
			"error":          err.Error(),
		})
		return nil, playouterr.Wrap(playouterr.RunnerRequestFailed, err, "generate playlist for slot %s", slot.ID)
	}

	pushedAt := c.now().UTC()
	slot.PlayOut = entries
	slot.PushAt = &pushedAt
	if len(slot.Overlays) > 0 {
		slot.Overlays = layout
	}
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(padding) > 0 {
			if err := tx.Create(&padding).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(slot).Select("play_out", "push_at", "overlays").Updates(slot).Error; err != nil {
			return err
		}
		return tx.Model(&models.Program{}).Where("slot_id = ?", slot.ID).Update("push_at", pushedAt).Error
	})
	if err != nil {
		return nil, playouterr.Store(err, "record push")
	}

	c.logger.Info().
		Str("slot_id", slot.ID).
		Str("live_stream_id", slot.LiveStreamID).
		Int("entries", res.Entries).
		Int("fillers", res.Fillers).
		Int("skipped", res.Skipped).
		Msg("slot pushed")
	c.bus.Publish(events.EventSlotPushed, events.Payload{
		"slot_id":        slot.ID,
		"live_stream_id": slot.LiveStreamID,
		"entries":        res.Entries,
	})

	res.Slot = slot
	return res, nil
}

// resolveAll keeps the assets that have a readable path.
func (c *Committer) resolveAll(ctx context.Context, assets []models.Asset) []resolved {
	out := make([]resolved, 0, len(assets))
	for i := range assets {
		if path, ok := c.paths.PathFor(ctx, &assets[i]); ok {
			out = append(out, resolved{asset: assets[i], path: path})
		}
	}
	return out
}

// pad builds dynamic filler programs after the last program until the
// snapshot covers the slot length, clipped at the slot end.
func (c *Committer) pad(slot *models.Slot, cfg slotconfig.EffectiveConfig, programs []models.Program, entries []models.PlayOutEntry, fillers []resolved, rng *rand.Rand) []models.Program {
	if len(fillers) == 0 {
		return nil
	}
	var covered time.Duration
	for _, e := range entries {
		covered += e.EndAt.Sub(e.StartAt)
	}
	missing := cfg.SlotLength - covered
	if missing < timeline.MinUnit {
		return nil
	}

	cursor := slot.StartAt
	if n := len(programs); n > 0 {
		cursor = programs[n-1].EndAt
	}
	if !cursor.Before(slot.EndAt) {
		return nil
	}

	pool := make([]models.Asset, len(fillers))
	for i, f := range fillers {
		pool[i] = f.asset
	}
	noAds := cfg
	noAds.AdConfig.Ads = false
	built := c.builder.Build(timeline.Request{
		Config:       noAds,
		WindowStart:  cursor,
		WindowEnd:    slot.EndAt,
		Budget:       missing,
		Fillers:      pool,
		Rand:         rng,
		GapFill:      true,
		LiveStreamID: slot.LiveStreamID,
		SlotID:       slot.ID,
		AddedBy:      AddedByPush,
	})
	return built.Programs
}

// substitute covers an unresolvable content program with filler segments of
// the same total duration. Each entry stays inside one filler segment.
func substitute(p models.Program, fillers []resolved, rng *rand.Rand) []models.PlayOutEntry {
	usable := make([]resolved, 0, len(fillers))
	for _, f := range fillers {
		for _, seg := range f.asset.PlayableSegments() {
			if seg.Length() > 0 {
				usable = append(usable, f)
				break
			}
		}
	}
	if len(usable) == 0 {
		return nil
	}

	var out []models.PlayOutEntry
	cursor := p.StartAt
	for p.EndAt.Sub(cursor) >= timeline.MinUnit {
		f := usable[rng.Intn(len(usable))]
		for _, seg := range f.asset.PlayableSegments() {
			rest := p.EndAt.Sub(cursor)
			if rest < timeline.MinUnit {
				break
			}
			if seg.Length() <= 0 {
				continue
			}
			d := time.Duration(seg.Length()) * time.Millisecond
			if d > rest {
				d = rest
			}
			out = append(out, entryFor(cursor, cursor.Add(d), f.asset, f.path, seg.StartMS, seg.StartMS+d.Milliseconds(), false))
			cursor = cursor.Add(d)
		}
	}
	return out
}

func fillerAsset(fillers []resolved, id string) resolved {
	for _, f := range fillers {
		if f.asset.ID == id {
			return f
		}
	}
	return resolved{}
}

func entryFor(start, end time.Time, a models.Asset, path string, startMS, endMS int64, isAd bool) models.PlayOutEntry {
	return models.PlayOutEntry{
		StartAt: start.UTC(),
		EndAt:   end.UTC(),
		Asset: models.PlayOutAsset{
			ID:        a.ID,
			Name:      a.Name,
			Category:  a.Category,
			Path:      path,
			Duration:  float64(a.Length()) / 1000,
			StartAt:   float64(startMS) / 1000,
			EndAt:     float64(endMS) / 1000,
			IsAd:      isAd || catalog.IsAd(a),
			Thumbnail: a.Thumbnail,
		},
	}
}
