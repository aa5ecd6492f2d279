/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package adselect

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// LoadCampaigns returns the active campaigns that apply to a slot, in
// selection order: slot-specific campaigns first, then the stream-wide ones.
// When defaults is non-empty only those stream-wide campaigns are used, in
// the order listed.
func LoadCampaigns(ctx context.Context, db *gorm.DB, liveStreamID, slotID string, defaults []string, types ...string) ([]models.AdCampaign, error) {
	query := db.WithContext(ctx).
		Where("live_stream_id = ? AND active = ?", liveStreamID, true).
		Where("slot_id = ? OR slot_id = '' OR slot_id IS NULL", slotID)
	if len(types) > 0 {
		query = query.Where("type IN ?", types)
	}

	var rows []models.AdCampaign
	if err := query.Order("position ASC, created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load ad campaigns: %w", err)
	}

	var slotScoped, streamWide []models.AdCampaign
	byID := make(map[string]models.AdCampaign, len(rows))
	for _, c := range rows {
		if c.SlotID == slotID && slotID != "" {
			slotScoped = append(slotScoped, c)
			continue
		}
		streamWide = append(streamWide, c)
		byID[c.ID] = c
	}

	if len(defaults) > 0 {
		streamWide = streamWide[:0]
		for _, id := range defaults {
			if c, ok := byID[id]; ok {
				streamWide = append(streamWide, c)
			}
		}
	}
	return append(slotScoped, streamWide...), nil
}
