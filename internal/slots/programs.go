/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/adselect"
	"github.com/friendsincode/grimnir_playout/internal/catalog"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/interval"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/playouterr"
	"github.com/friendsincode/grimnir_playout/internal/slotconfig"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
	"github.com/friendsincode/grimnir_playout/internal/timeline"
)

// ProgramInput is a requested program window. Asset offsets are in ms; a
// zero AssetEndMS means "until the asset or window ends".
type ProgramInput struct {
	AssetID      string    `json:"asset_id"`
	StartAt      time.Time `json:"start_at"`
	EndAt        time.Time `json:"end_at"`
	AssetStartMS int64     `json:"asset_start_ms,omitempty"`
	AssetEndMS   int64     `json:"asset_end_ms,omitempty"`
	AddedBy      string    `json:"-"`
}

// FillOptions control Fill.
type FillOptions struct {
	// Append continues after the last program instead of clearing the slot.
	Append bool
	// Duration overrides the budget; zero fills up to slot_length.
	Duration time.Duration
	// AssetID plays one asset instead of rotating the content pool.
	AssetID string
	AddedBy string
}

// FillResult reports what a fill produced.
type FillResult struct {
	Slot     *models.Slot
	Programs []models.Program
	Filled   time.Duration
	AdBreaks int
}

// ListPrograms returns the slot's programs ordered by start.
func (s *Service) ListPrograms(ctx context.Context, slotID string) ([]models.Program, error) {
	if _, err := loadSlot(ctx, s.db, slotID); err != nil {
		return nil, err
	}
	return loadPrograms(ctx, s.db, slotID)
}

// AutoFillIfEmpty fills a slot that has no programs. It reports whether a
// fill ran.
func (s *Service) AutoFillIfEmpty(ctx context.Context, slotID, addedBy string) (bool, error) {
	unlock, err := s.LockSlot(ctx, slotID)
	if err != nil {
		return false, err
	}
	defer unlock()

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Program{}).Where("slot_id = ?", slotID).Count(&count).Error; err != nil {
		return false, playouterr.Store(err, "count programs")
	}
	if count > 0 {
		return false, nil
	}
	if _, err := s.fillLocked(ctx, slotID, FillOptions{AddedBy: addedBy}, "auto"); err != nil {
		return false, err
	}
	return true, nil
}

// Fill runs a duration-budgeted fill of the slot.
func (s *Service) Fill(ctx context.Context, slotID string, opts FillOptions) (*FillResult, error) {
	unlock, err := s.LockSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	mode := "replace"
	if opts.Append {
		mode = "append"
	}
	return s.fillLocked(ctx, slotID, opts, mode)
}

func (s *Service) fillLocked(ctx context.Context, slotID string, opts FillOptions, mode string) (res *FillResult, err error) {
	started := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(playouterr.KindOf(err))
		}
		telemetry.FillsTotal.WithLabelValues(mode, outcome).Inc()
		telemetry.FillDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	}()

	slot, err := loadSlot(ctx, s.db, slotID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.configs.Resolve(ctx, slot.LiveStreamID, slot.Name)
	if err != nil {
		return nil, err
	}

	windowStart := slot.StartAt
	if opts.Append {
		var last models.Program
		err := s.db.WithContext(ctx).Where("slot_id = ?", slot.ID).Order("end_at DESC").First(&last).Error
		switch {
		case err == nil:
			windowStart = last.EndAt
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, playouterr.Store(err, "load last program")
		}
	}

	budget := opts.Duration
	if budget <= 0 {
		budget = cfg.SlotLength - windowStart.Sub(slot.StartAt)
	}
	if budget < timeline.MinUnit || !windowStart.Before(slot.EndAt) {
		s.logger.Debug().Str("slot_id", slot.ID).Msg("nothing left to fill")
		return &FillResult{Slot: slot}, nil
	}

	var designated *models.Asset
	if opts.AssetID != "" {
		if designated, err = s.playableAsset(ctx, s.db, opts.AssetID); err != nil {
			return nil, err
		}
	}

	rng := s.NewRand()
	pools, selector, err := s.fillInputs(ctx, slot, cfg, rng)
	if err != nil {
		return nil, err
	}

	req := timeline.Request{
		Config:         cfg,
		WindowStart:    windowStart,
		WindowEnd:      slot.EndAt,
		Budget:         budget,
		Content:        timeline.Source{Pool: pools.Content},
		Fillers:        pools.Fillers,
		Selector:       selector,
		Rand:           rng,
		GapFill:        true,
		DynamicContent: designated == nil,
		LiveStreamID:   slot.LiveStreamID,
		SlotID:         slot.ID,
		AddedBy:        opts.AddedBy,
	}
	if designated != nil {
		req.Content = timeline.Source{Designated: designated}
	}
	built := s.builder.Build(req)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !opts.Append {
			if err := tx.Where("slot_id = ?", slot.ID).Delete(&models.Program{}).Error; err != nil {
				return err
			}
		}
		if len(built.Programs) == 0 {
			return nil
		}
		return tx.Create(&built.Programs).Error
	})
	if err != nil {
		return nil, playouterr.Store(err, "store programs")
	}

	s.logger.Info().
		Str("slot_id", slot.ID).
		Str("mode", mode).
		Int("programs", len(built.Programs)).
		Int("ad_breaks", built.AdBreaks).
		Dur("filled", built.Filled).
		Str("config_source", cfg.Source).
		Msg("slot filled")
	s.publish(events.EventSlotFilled, slot, events.Payload{"programs": len(built.Programs), "mode": mode})

	return &FillResult{Slot: slot, Programs: built.Programs, Filled: built.Filled, AdBreaks: built.AdBreaks}, nil
}

// Clear deletes every program of the slot.
func (s *Service) Clear(ctx context.Context, slotID string) (int64, error) {
	unlock, err := s.LockSlot(ctx, slotID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	slot, err := loadSlot(ctx, s.db, slotID)
	if err != nil {
		return 0, err
	}
	result := s.db.WithContext(ctx).Where("slot_id = ?", slot.ID).Delete(&models.Program{})
	if result.Error != nil {
		return 0, playouterr.Store(result.Error, "clear programs")
	}
	s.publish(events.EventProgramsChanged, slot, events.Payload{"deleted": result.RowsAffected})
	return result.RowsAffected, nil
}

// insertion holds everything an insertion needs that is read outside the
// write transaction.
type insertion struct {
	slot     *models.Slot
	cfg      slotconfig.EffectiveConfig
	asset    *models.Asset
	selector *adselect.Selector
	rng      *rand.Rand
	limit    time.Time
}

func (s *Service) prepareInsertion(ctx context.Context, slot *models.Slot, assetID string) (*insertion, error) {
	asset, err := s.playableAsset(ctx, s.db, assetID)
	if err != nil {
		return nil, err
	}

	cfg, err := s.configs.Resolve(ctx, slot.LiveStreamID, slot.Name)
	switch {
	case playouterr.Is(err, playouterr.ConfigurationMissing):
		cfg = slotconfig.EffectiveConfig{SlotLength: slot.Duration()}
	case err != nil:
		return nil, err
	}

	ins := &insertion{slot: slot, cfg: cfg, asset: asset, rng: s.NewRand()}
	if cfg.AdConfig.Ads {
		if _, ins.selector, err = s.fillInputs(ctx, slot, cfg, ins.rng); err != nil {
			return nil, err
		}
	}
	if ins.limit, err = s.effectiveEnd(ctx, slot); err != nil {
		return nil, err
	}
	return ins, nil
}

// effectiveEnd is the next slot's start when it begins within the look-ahead
// after this slot, otherwise the slot's own end.
func (s *Service) effectiveEnd(ctx context.Context, slot *models.Slot) (time.Time, error) {
	var next models.Slot
	err := s.db.WithContext(ctx).
		Where("live_stream_id = ? AND id <> ? AND start_at >= ?", slot.LiveStreamID, slot.ID, slot.EndAt).
		Order("start_at ASC").
		First(&next).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return slot.EndAt, nil
	case err != nil:
		return time.Time{}, playouterr.Store(err, "find next slot")
	}
	if !next.StartAt.After(slot.EndAt.Add(s.lookahead)) {
		return next.StartAt, nil
	}
	return slot.EndAt, nil
}

// AddProgram plays an asset from the requested start. Later programs are
// pushed back after the inserted block, clipped or dropped at the slot's
// effective end, and the slot end moves forward when the block runs past it.
func (s *Service) AddProgram(ctx context.Context, slotID string, in ProgramInput) ([]models.Program, error) {
	unlock, err := s.LockSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	slot, err := loadSlot(ctx, s.db, slotID)
	if err != nil {
		return nil, err
	}
	ins, err := s.prepareInsertion(ctx, slot, in.AssetID)
	if err != nil {
		return nil, err
	}

	var added []models.Program
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		added, err = s.insertTx(ctx, tx, ins, in)
		return err
	})
	if err != nil {
		return nil, asKind(err, "add program")
	}

	s.publish(events.EventProgramsChanged, slot, events.Payload{"added": len(added)})
	return added, nil
}

// UpdateProgram replaces a program by deleting it and inserting in at its
// requested window.
func (s *Service) UpdateProgram(ctx context.Context, programID string, in ProgramInput) ([]models.Program, error) {
	existing, err := s.loadProgram(ctx, programID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.LockSlot(ctx, existing.SlotID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	slot, err := loadSlot(ctx, s.db, existing.SlotID)
	if err != nil {
		return nil, err
	}
	if in.AssetID == "" {
		in.AssetID = existing.AssetID
	}
	ins, err := s.prepareInsertion(ctx, slot, in.AssetID)
	if err != nil {
		return nil, err
	}

	var added []models.Program
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Program{}, "id = ?", existing.ID).Error; err != nil {
			return err
		}
		var err error
		added, err = s.insertTx(ctx, tx, ins, in)
		return err
	})
	if err != nil {
		return nil, asKind(err, "update program")
	}

	s.publish(events.EventProgramsChanged, slot, events.Payload{"updated": existing.ID})
	return added, nil
}

func (s *Service) insertTx(ctx context.Context, tx *gorm.DB, ins *insertion, in ProgramInput) ([]models.Program, error) {
	slot := ins.slot
	req := interval.New(in.StartAt.UTC(), in.EndAt.UTC())
	if !req.Valid() {
		return nil, playouterr.New(playouterr.InvalidTimePeriod, "program start must be before end")
	}
	if !interval.New(slot.StartAt, slot.EndAt).Contains(req) {
		return nil, playouterr.New(playouterr.InvalidTimePeriod, "program must lie within slot [%s, %s)",
			slot.StartAt.Format(time.RFC3339), slot.EndAt.Format(time.RFC3339))
	}

	programs, err := loadPrograms(ctx, tx, slot.ID)
	if err != nil {
		return nil, err
	}
	for _, p := range programs {
		if interval.New(p.StartAt, p.EndAt).Overlaps(req) {
			return nil, playouterr.New(playouterr.DuplicateTimeSlot, "program overlaps %s [%s, %s)",
				p.ID, p.StartAt.Format(time.RFC3339), p.EndAt.Format(time.RFC3339))
		}
	}

	built := s.builder.Build(timeline.Request{
		Config:       ins.cfg,
		WindowStart:  req.Start,
		WindowEnd:    ins.limit,
		Budget:       ins.limit.Sub(req.Start),
		Content:      timeline.Source{Designated: ins.asset, StartMS: in.AssetStartMS, EndMS: in.AssetEndMS},
		Selector:     ins.selector,
		Rand:         ins.rng,
		LiveStreamID: slot.LiveStreamID,
		SlotID:       slot.ID,
		AddedBy:      in.AddedBy,
	})
	if len(built.Programs) == 0 {
		return nil, playouterr.New(playouterr.InvalidTimePeriod, "asset %s has nothing to play from the requested offset", ins.asset.ID)
	}

	// Push later programs back behind the block.
	cursor := built.End
	var shifted, dropped []models.Program
	for _, p := range programs {
		if p.StartAt.Before(req.Start) {
			continue
		}
		start := interval.MaxTime(p.StartAt, cursor)
		end := start.Add(p.Duration())
		if end.After(ins.limit) {
			end = ins.limit
		}
		if end.Sub(start) < timeline.MinUnit {
			dropped = append(dropped, p)
			continue
		}
		if start.Equal(p.StartAt) && end.Equal(p.EndAt) {
			cursor = end
			continue
		}
		p.AssetEndMS = p.AssetStartMS + end.Sub(start).Milliseconds()
		p.StartAt, p.EndAt = start, end
		shifted = append(shifted, p)
		cursor = end
	}

	for _, p := range dropped {
		if err := tx.Delete(&models.Program{}, "id = ?", p.ID).Error; err != nil {
			return nil, err
		}
	}
	for i := len(shifted) - 1; i >= 0; i-- {
		p := shifted[i]
		if err := tx.Model(&models.Program{}).Where("id = ?", p.ID).Updates(map[string]any{
			"start_at":     p.StartAt,
			"end_at":       p.EndAt,
			"asset_end_ms": p.AssetEndMS,
		}).Error; err != nil {
			return nil, err
		}
	}
	if err := tx.Create(&built.Programs).Error; err != nil {
		return nil, err
	}

	if boundary := interval.MaxTime(cursor, built.End); boundary.After(slot.EndAt) {
		if err := tx.Model(&models.Slot{}).Where("id = ?", slot.ID).Update("end_at", boundary).Error; err != nil {
			return nil, err
		}
		slot.EndAt = boundary
	}

	if len(dropped) > 0 {
		s.logger.Info().Str("slot_id", slot.ID).Int("dropped", len(dropped)).Msg("programs dropped past the slot boundary")
	}
	return built.Programs, nil
}

// DeleteProgram removes a program and pulls later programs forward to close
// the gap.
func (s *Service) DeleteProgram(ctx context.Context, programID string) error {
	existing, err := s.loadProgram(ctx, programID)
	if err != nil {
		return err
	}

	unlock, err := s.LockSlot(ctx, existing.SlotID)
	if err != nil {
		return err
	}
	defer unlock()

	slot, err := loadSlot(ctx, s.db, existing.SlotID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Program{}, "id = ?", existing.ID).Error; err != nil {
			return err
		}
		var later []models.Program
		if err := tx.Where("slot_id = ? AND start_at >= ?", slot.ID, existing.EndAt).
			Order("start_at ASC").
			Find(&later).Error; err != nil {
			return err
		}
		gap := existing.Duration()
		for _, p := range later {
			if err := tx.Model(&models.Program{}).Where("id = ?", p.ID).Updates(map[string]any{
				"start_at": p.StartAt.Add(-gap),
				"end_at":   p.EndAt.Add(-gap),
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return playouterr.Store(err, "delete program")
	}

	s.publish(events.EventProgramsChanged, slot, events.Payload{"deleted": existing.ID})
	return nil
}

// UpdatePrograms replaces the programs intersecting [from, to) with
// replacements in one transaction. Zero bounds cover the whole slot. The
// first invalid replacement aborts everything.
func (s *Service) UpdatePrograms(ctx context.Context, slotID string, from, to time.Time, replacements []ProgramInput) ([]models.Program, error) {
	unlock, err := s.LockSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	slot, err := loadSlot(ctx, s.db, slotID)
	if err != nil {
		return nil, err
	}
	if from.IsZero() {
		from = slot.StartAt
	}
	if to.IsZero() {
		to = slot.EndAt
	}

	ids := make([]string, 0, len(replacements))
	for _, in := range replacements {
		ids = append(ids, in.AssetID)
	}
	assets, err := s.catalog.ByID(ctx, ids)
	if err != nil {
		return nil, playouterr.Store(err, "load replacement assets")
	}

	var inserted []models.Program
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("slot_id = ? AND start_at < ? AND end_at > ?", slot.ID, to.UTC(), from.UTC()).
			Delete(&models.Program{}).Error; err != nil {
			return playouterr.Store(err, "delete program range")
		}
		for i, in := range replacements {
			p, err := s.validateReplacement(ctx, tx, slot, assets, in)
			if err != nil {
				return playouterr.Wrap(playouterr.TransactionAborted, err, "replacement %d rejected", i)
			}
			if err := tx.Create(p).Error; err != nil {
				return playouterr.Wrap(playouterr.TransactionAborted, playouterr.Store(err, "insert program"), "replacement %d rejected", i)
			}
			inserted = append(inserted, *p)
		}
		return nil
	})
	if err != nil {
		if !playouterr.Is(err, playouterr.TransactionAborted) {
			err = playouterr.Wrap(playouterr.TransactionAborted, err, "replace programs")
		}
		s.logger.Warn().Err(err).Str("slot_id", slot.ID).Msg("program replacement rolled back")
		return nil, err
	}

	s.publish(events.EventProgramsChanged, slot, events.Payload{"replaced": len(inserted)})
	return inserted, nil
}

func (s *Service) validateReplacement(ctx context.Context, tx *gorm.DB, slot *models.Slot, assets map[string]models.Asset, in ProgramInput) (*models.Program, error) {
	w := interval.New(in.StartAt.UTC(), in.EndAt.UTC())
	if !w.Valid() {
		return nil, playouterr.New(playouterr.InvalidTimePeriod, "program start must be before end")
	}
	if !interval.New(slot.StartAt, slot.EndAt).Contains(w) {
		return nil, playouterr.New(playouterr.InvalidTimePeriod, "program must lie within its slot")
	}

	asset, ok := assets[in.AssetID]
	if !ok || !asset.Playable() {
		return nil, playouterr.New(playouterr.NotFound, "asset %s not found or not encoded", in.AssetID)
	}

	d := interval.Millis(w.Duration())
	startMS, endMS := in.AssetStartMS, in.AssetEndMS
	if endMS == 0 {
		endMS = startMS + d
	}
	if endMS-startMS != d {
		return nil, playouterr.New(playouterr.InvalidTimePeriod, "asset range of %dms does not match window of %dms", endMS-startMS, d)
	}
	segment, ok := segmentFor(&asset, startMS, endMS)
	if !ok {
		return nil, playouterr.New(playouterr.InvalidTimePeriod, "asset range [%d, %d) is not inside one segment", startMS, endMS)
	}

	var clash models.Program
	err := tx.WithContext(ctx).
		Where("slot_id = ? AND start_at < ? AND end_at > ?", slot.ID, w.End, w.Start).
		First(&clash).Error
	switch {
	case err == nil:
		return nil, playouterr.New(playouterr.DuplicateTimeSlot, "program overlaps %s", clash.ID)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, playouterr.Store(err, "check program overlap")
	}

	kind := models.ProgramContent
	if catalog.IsAd(asset) {
		kind = models.ProgramAd
	}
	return &models.Program{
		ID:            uuid.NewString(),
		LiveStreamID:  slot.LiveStreamID,
		SlotID:        slot.ID,
		StartAt:       w.Start,
		EndAt:         w.End,
		AssetID:       asset.ID,
		AssetStartMS:  startMS,
		AssetEndMS:    endMS,
		Type:          kind,
		SegmentNumber: segment,
		AddedBy:       in.AddedBy,
	}, nil
}

func segmentFor(a *models.Asset, startMS, endMS int64) (int, bool) {
	for i, seg := range a.PlayableSegments() {
		if startMS >= seg.StartMS && endMS <= seg.EndMS {
			return i, true
		}
	}
	return 0, false
}

func (s *Service) loadProgram(ctx context.Context, programID string) (*models.Program, error) {
	var p models.Program
	if err := s.db.WithContext(ctx).First(&p, "id = ?", programID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, playouterr.New(playouterr.NotFound, "program %s not found", programID)
		}
		return nil, playouterr.Store(err, "load program")
	}
	return &p, nil
}

func (s *Service) playableAsset(ctx context.Context, db *gorm.DB, assetID string) (*models.Asset, error) {
	var a models.Asset
	if err := db.WithContext(ctx).First(&a, "id = ?", assetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, playouterr.New(playouterr.NotFound, "asset %s not found", assetID)
		}
		return nil, playouterr.Store(err, "load asset")
	}
	if !a.Playable() || a.Length() <= 0 {
		return nil, playouterr.New(playouterr.NotFound, "asset %s is not encoded", assetID)
	}
	return &a, nil
}

// asKind keeps classified errors and wraps the rest as store failures.
func asKind(err error, op string) error {
	var pe *playouterr.Error
	if errors.As(err, &pe) {
		return err
	}
	return playouterr.Store(err, op)
}
