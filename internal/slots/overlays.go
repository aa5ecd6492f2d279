/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package slots

import (
	"context"
	"errors"

	"github.com/friendsincode/grimnir_playout/internal/adselect"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/overlay"
	"github.com/friendsincode/grimnir_playout/internal/playouterr"
)

// AddOverlay appends an overlay definition to the slot.
func (s *Service) AddOverlay(ctx context.Context, slotID string, o models.Overlay) ([]models.Overlay, error) {
	return s.editOverlays(ctx, slotID, func(slot *models.Slot) ([]models.Overlay, error) {
		if err := overlay.Validate(o, slot); err != nil {
			return nil, playouterr.Wrap(playouterr.InvalidTimePeriod, err, "invalid overlay")
		}
		return overlay.Insert(slot.Overlays, o), nil
	})
}

// UpdateOverlay replaces the overlay at index.
func (s *Service) UpdateOverlay(ctx context.Context, slotID string, index int, o models.Overlay) ([]models.Overlay, error) {
	return s.editOverlays(ctx, slotID, func(slot *models.Slot) ([]models.Overlay, error) {
		if err := overlay.Validate(o, slot); err != nil {
			return nil, playouterr.Wrap(playouterr.InvalidTimePeriod, err, "invalid overlay")
		}
		return overlay.Replace(slot.Overlays, index, o)
	})
}

// DeleteOverlay removes the overlay at index.
func (s *Service) DeleteOverlay(ctx context.Context, slotID string, index int) ([]models.Overlay, error) {
	return s.editOverlays(ctx, slotID, func(slot *models.Slot) ([]models.Overlay, error) {
		return overlay.Remove(slot.Overlays, index)
	})
}

func (s *Service) editOverlays(ctx context.Context, slotID string, edit func(*models.Slot) ([]models.Overlay, error)) ([]models.Overlay, error) {
	unlock, err := s.LockSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	slot, err := loadSlot(ctx, s.db, slotID)
	if err != nil {
		return nil, err
	}

	list, err := edit(slot)
	if errors.Is(err, overlay.ErrIndexOutOfRange) {
		return nil, playouterr.Wrap(playouterr.NotFound, err, "slot %s", slotID)
	}
	if err != nil {
		return nil, err
	}

	slot.Overlays = list
	if err := s.db.WithContext(ctx).Model(slot).Select("overlays").Updates(slot).Error; err != nil {
		return nil, playouterr.Store(err, "update overlays")
	}
	s.publish(events.EventOverlaysChanged, slot, events.Payload{"overlays": len(list)})
	return list, nil
}

// OverlayCues returns the slot's overlays (or the stream's bug overlays when
// the slot has none) with their cue times expanded.
func (s *Service) OverlayCues(ctx context.Context, slotID string) ([]models.Overlay, error) {
	slot, err := loadSlot(ctx, s.db, slotID)
	if err != nil {
		return nil, err
	}
	bugs, assets, err := s.BugOverlays(ctx, slot)
	if err != nil {
		return nil, err
	}
	return overlay.Layout(slot, bugs, assets), nil
}

// BugOverlays loads the active bug campaigns for a slot and their assets.
func (s *Service) BugOverlays(ctx context.Context, slot *models.Slot) ([]models.AdCampaign, map[string]models.Asset, error) {
	if len(slot.Overlays) > 0 {
		return nil, nil, nil
	}
	bugs, err := adselect.LoadCampaigns(ctx, s.db, slot.LiveStreamID, slot.ID, nil, models.CampaignBug)
	if err != nil {
		return nil, nil, playouterr.Store(err, "load bug campaigns")
	}
	ids := make([]string, 0, len(bugs))
	for _, b := range bugs {
		ids = append(ids, b.AssetID)
	}
	assets, err := s.catalog.ByID(ctx, ids)
	if err != nil {
		return nil, nil, playouterr.Store(err, "load bug assets")
	}
	return bugs, assets, nil
}
