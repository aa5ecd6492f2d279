/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/google/uuid"
)

// Campaign types.
const (
	CampaignAd    = "ad"
	CampaignPromo = "promo"
	CampaignBug   = "bug"
)

// AdCampaign ties an asset to a live stream (and optionally one slot) with a
// per-slot play budget. Bug campaigns describe persistent logo overlays and
// use RepeatMinutes/Frequency instead of the budget.
type AdCampaign struct {
	ID               string    `gorm:"type:uuid;primaryKey" json:"id"`
	LiveStreamID     string    `gorm:"type:uuid;index;not null" json:"live_stream_id"`
	SlotID           string    `gorm:"type:varchar(36);index" json:"slot_id,omitempty"`
	Name             string    `gorm:"type:varchar(255)" json:"name,omitempty"`
	AssetID          string    `gorm:"type:uuid;not null" json:"asset_id"`
	Type             string    `gorm:"type:varchar(16);not null;default:'ad'" json:"type"`
	FrequencyPerSlot int       `gorm:"not null;default:0" json:"frequency_per_slot"`
	RepeatMinutes    *int      `json:"repeat_minutes,omitempty"`
	Frequency        *int      `json:"frequency,omitempty"`
	Position         int       `gorm:"not null;default:0" json:"position"`
	Active           bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (AdCampaign) TableName() string {
	return "ad_campaigns"
}

// NewAdCampaign creates an active campaign.
func NewAdCampaign(liveStreamID, assetID, campaignType string, frequencyPerSlot int) *AdCampaign {
	return &AdCampaign{
		ID:               uuid.NewString(),
		LiveStreamID:     liveStreamID,
		AssetID:          assetID,
		Type:             campaignType,
		FrequencyPerSlot: frequencyPerSlot,
		Active:           true,
	}
}
