/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/interval"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/playouterr"
)

// SlotUpdate carries the mutable slot fields. Nil fields are left alone.
type SlotUpdate struct {
	Name    *string    `json:"name,omitempty"`
	StartAt *time.Time `json:"start_at,omitempty"`
	EndAt   *time.Time `json:"end_at,omitempty"`
}

// ValidateWindow checks ordering and the duration bounds of a slot.
func ValidateWindow(start, end time.Time) error {
	if !start.Before(end) {
		return playouterr.New(playouterr.InvalidTimePeriod, "slot start %s must be before end %s",
			start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	}
	d := end.Sub(start)
	if d < MinSlotDuration || d > MaxSlotDuration {
		return playouterr.New(playouterr.InvalidTimePeriod, "slot duration %s must be between %s and %s",
			d, MinSlotDuration, MaxSlotDuration)
	}
	return nil
}

// CreateSlot validates and stores a new slot window.
func (s *Service) CreateSlot(ctx context.Context, liveStreamID, name string, start, end time.Time) (*models.Slot, error) {
	if err := ValidateWindow(start, end); err != nil {
		return nil, err
	}
	stream, err := s.configs.LiveStream(ctx, liveStreamID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockStream(ctx, liveStreamID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.insertSlot(ctx, stream, name, start, end)
}

func (s *Service) insertSlot(ctx context.Context, stream *models.LiveStream, name string, start, end time.Time) (*models.Slot, error) {
	if err := ValidateWindow(start, end); err != nil {
		return nil, err
	}
	slot := models.NewSlot(stream, name, start, end)
	if err := s.checkSiblings(ctx, s.db, slot.LiveStreamID, slot.ID, interval.New(slot.StartAt, slot.EndAt)); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(slot).Error; err != nil {
		return nil, playouterr.Store(err, "create slot")
	}

	s.logger.Info().
		Str("slot_id", slot.ID).
		Str("live_stream_id", slot.LiveStreamID).
		Time("start_at", slot.StartAt).
		Time("end_at", slot.EndAt).
		Msg("slot created")
	s.publish(events.EventSlotCreated, slot, events.Payload{"start_at": slot.StartAt, "end_at": slot.EndAt})
	return slot, nil
}

// checkSiblings rejects windows intersecting another slot of the stream.
func (s *Service) checkSiblings(ctx context.Context, db *gorm.DB, liveStreamID, excludeID string, w interval.Window) error {
	var clash models.Slot
	err := db.WithContext(ctx).
		Where("live_stream_id = ? AND id <> ?", liveStreamID, excludeID).
		Where("start_at < ? AND end_at > ?", w.End, w.Start).
		Order("start_at ASC").
		First(&clash).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil
	case err != nil:
		return playouterr.Store(err, "check slot overlap")
	}
	return playouterr.New(playouterr.OverlapConflict, "slot overlaps %s [%s, %s)", clash.ID,
		clash.StartAt.Format(time.RFC3339), clash.EndAt.Format(time.RFC3339))
}

// ListSlots returns the stream's slots ordered by start. Zero bounds are open.
func (s *Service) ListSlots(ctx context.Context, liveStreamID string, from, to time.Time) ([]models.Slot, error) {
	query := s.db.WithContext(ctx).Where("live_stream_id = ?", liveStreamID)
	if !from.IsZero() {
		query = query.Where("end_at > ?", from.UTC())
	}
	if !to.IsZero() {
		query = query.Where("start_at < ?", to.UTC())
	}
	var slots []models.Slot
	if err := query.Order("start_at ASC").Find(&slots).Error; err != nil {
		return nil, playouterr.Store(err, "list slots")
	}
	return slots, nil
}

// UpdateSlot renames or moves a slot. A moved window must still hold every
// program of the slot.
func (s *Service) UpdateSlot(ctx context.Context, slotID string, upd SlotUpdate) (*models.Slot, error) {
	slot, err := loadSlot(ctx, s.db, slotID)
	if err != nil {
		return nil, err
	}

	unlockStream, err := s.lockStream(ctx, slot.LiveStreamID)
	if err != nil {
		return nil, err
	}
	defer unlockStream()
	unlock, err := s.LockSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if slot, err = loadSlot(ctx, s.db, slotID); err != nil {
		return nil, err
	}

	if upd.Name != nil {
		slot.Name = *upd.Name
	}
	start, end := slot.StartAt, slot.EndAt
	if upd.StartAt != nil {
		start = upd.StartAt.UTC()
	}
	if upd.EndAt != nil {
		end = upd.EndAt.UTC()
	}

	if !start.Equal(slot.StartAt) || !end.Equal(slot.EndAt) {
		if err := ValidateWindow(start, end); err != nil {
			return nil, err
		}
		w := interval.New(start, end)
		if err := s.checkSiblings(ctx, s.db, slot.LiveStreamID, slot.ID, w); err != nil {
			return nil, err
		}
		var outside int64
		if err := s.db.WithContext(ctx).Model(&models.Program{}).
			Where("slot_id = ? AND (start_at < ? OR end_at > ?)", slot.ID, w.Start, w.End).
			Count(&outside).Error; err != nil {
			return nil, playouterr.Store(err, "check programs")
		}
		if outside > 0 {
			return nil, playouterr.New(playouterr.InvalidTimePeriod, "%d programs fall outside the new window", outside)
		}
		slot.StartAt, slot.EndAt = start, end
	}

	if err := s.db.WithContext(ctx).Model(slot).
		Select("name", "start_at", "end_at").
		Updates(slot).Error; err != nil {
		return nil, playouterr.Store(err, "update slot")
	}

	s.publish(events.EventSlotUpdated, slot, nil)
	return slot, nil
}

// DeleteSlot removes a slot together with its programs.
func (s *Service) DeleteSlot(ctx context.Context, slotID string) error {
	unlock, err := s.LockSlot(ctx, slotID)
	if err != nil {
		return err
	}
	defer unlock()

	slot, err := loadSlot(ctx, s.db, slotID)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("slot_id = ?", slot.ID).Delete(&models.Program{}).Error; err != nil {
			return err
		}
		return tx.Delete(slot).Error
	})
	if err != nil {
		return playouterr.Store(err, "delete slot")
	}

	s.logger.Info().Str("slot_id", slot.ID).Msg("slot deleted")
	s.publish(events.EventSlotDeleted, slot, nil)
	return nil
}

// CreateNextSlot returns the slot that follows the one airing now, creating
// it when needed. With nothing airing it returns the earliest upcoming slot,
// or creates one starting now.
func (s *Service) CreateNextSlot(ctx context.Context, liveStreamID string) (*models.Slot, error) {
	stream, err := s.configs.LiveStream(ctx, liveStreamID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockStream(ctx, liveStreamID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now().UTC()

	var current []models.Slot
	if err := s.db.WithContext(ctx).
		Where("live_stream_id = ? AND start_at <= ? AND end_at > ?", liveStreamID, now, now).
		Order("start_at ASC").
		Limit(2).
		Find(&current).Error; err != nil {
		return nil, playouterr.Store(err, "find current slot")
	}

	switch len(current) {
	case 0:
		return s.firstUpcomingOrNew(ctx, stream, now)
	case 1:
	default:
		return nil, playouterr.New(playouterr.AmbiguousSchedule,
			"%d slots claim %s on live stream %s", len(current), now.Format(time.RFC3339), liveStreamID)
	}

	cur := current[0]
	var existing models.Slot
	err = s.db.WithContext(ctx).
		Where("live_stream_id = ? AND start_at = ?", liveStreamID, cur.EndAt).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, playouterr.Store(err, "find next slot")
	}

	cfg, err := s.configs.Resolve(ctx, liveStreamID, cur.Name)
	if err != nil {
		return nil, err
	}
	return s.insertSlot(ctx, stream, cur.Name, cur.EndAt, cur.EndAt.Add(cfg.SlotLength))
}

func (s *Service) firstUpcomingOrNew(ctx context.Context, stream *models.LiveStream, now time.Time) (*models.Slot, error) {
	var upcoming models.Slot
	err := s.db.WithContext(ctx).
		Where("live_stream_id = ? AND start_at > ?", stream.ID, now).
		Order("start_at ASC").
		First(&upcoming).Error
	if err == nil {
		return &upcoming, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, playouterr.Store(err, "find upcoming slot")
	}

	name := stream.DefaultSlotName
	if name == "" {
		name = DefaultSlotName
	}
	cfg, err := s.configs.Resolve(ctx, stream.ID, name)
	if err != nil {
		return nil, err
	}
	return s.insertSlot(ctx, stream, name, now, now.Add(cfg.SlotLength))
}
