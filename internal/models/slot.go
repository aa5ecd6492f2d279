/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/google/uuid"
)

// Slot is one broadcast window on a live stream.
type Slot struct {
	ID           string         `gorm:"type:uuid;primaryKey" json:"id"`
	LiveStreamID string         `gorm:"type:uuid;not null;uniqueIndex:idx_slot_window" json:"live_stream_id"`
	MediaSpaceID string         `gorm:"type:uuid;not null;uniqueIndex:idx_slot_window" json:"media_space_id"`
	Name         string         `gorm:"type:varchar(255)" json:"name"`
	StartAt      time.Time      `gorm:"not null;uniqueIndex:idx_slot_window;index" json:"start_at"`
	EndAt        time.Time      `gorm:"not null;uniqueIndex:idx_slot_window" json:"end_at"`
	Overlays     []Overlay      `gorm:"type:jsonb;serializer:json" json:"overlays"`
	PlayOut      []PlayOutEntry `gorm:"type:jsonb;serializer:json" json:"play_out,omitempty"`
	PushAt       *time.Time     `json:"push_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Slot) TableName() string {
	return "slots"
}

// NewSlot creates a slot for the given window.
func NewSlot(stream *LiveStream, name string, start, end time.Time) *Slot {
	return &Slot{
		ID:           uuid.NewString(),
		LiveStreamID: stream.ID,
		MediaSpaceID: stream.MediaSpaceID,
		Name:         name,
		StartAt:      start.UTC(),
		EndAt:        end.UTC(),
		Overlays:     []Overlay{},
	}
}

// Duration returns the window length.
func (s *Slot) Duration() time.Duration {
	return s.EndAt.Sub(s.StartAt)
}

// Overlay is a graphic or video cue layered on top of the slot's programs.
// Repeat is in minutes; Frequency caps the number of additional repetitions.
// Pts holds the expanded cue times written at push.
type Overlay struct {
	StartAt   time.Time   `json:"start_at"`
	EndAt     time.Time   `json:"end_at"`
	AssetID   string      `json:"asset_id"`
	Repeat    *int        `json:"repeat,omitempty"`
	Frequency *int        `json:"frequency,omitempty"`
	Pts       []time.Time `json:"pts,omitempty"`
}

// PlayOutEntry is one line of the committed timeline snapshot.
type PlayOutEntry struct {
	StartAt time.Time    `json:"startAt"`
	EndAt   time.Time    `json:"endAt"`
	Asset   PlayOutAsset `json:"asset"`
}

// PlayOutAsset describes the media the runner plays for an entry.
// StartAt and EndAt are offsets into the asset in seconds.
type PlayOutAsset struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Path      string  `json:"path"`
	Duration  float64 `json:"duration"`
	StartAt   float64 `json:"startAt"`
	EndAt     float64 `json:"endAt"`
	IsAd      bool    `json:"isAd"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}

// Program types.
const (
	ProgramContent = "content"
	ProgramAd      = "ad"
)

// Program is one scheduled playback unit inside a slot.
type Program struct {
	ID            string     `gorm:"type:uuid;primaryKey" json:"id"`
	LiveStreamID  string     `gorm:"type:uuid;not null;uniqueIndex:idx_program_window" json:"live_stream_id"`
	SlotID        string     `gorm:"type:uuid;not null;uniqueIndex:idx_program_window;index" json:"slot_id"`
	StartAt       time.Time  `gorm:"not null;uniqueIndex:idx_program_window" json:"start_at"`
	EndAt         time.Time  `gorm:"not null;uniqueIndex:idx_program_window" json:"end_at"`
	AssetID       string     `gorm:"type:uuid;index" json:"asset_id"`
	AssetStartMS  int64      `json:"asset_start_ms"`
	AssetEndMS    int64      `json:"asset_end_ms"`
	Type          string     `gorm:"type:varchar(16);not null" json:"type"`
	SegmentNumber int        `json:"segment_number"`
	AddedBy       string     `gorm:"type:varchar(255)" json:"added_by,omitempty"`
	IsDynamic     bool       `json:"is_dynamic"`
	PushAt        *time.Time `json:"push_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Program) TableName() string {
	return "programs"
}

// Duration returns the wall-clock span of the program.
func (p *Program) Duration() time.Duration {
	return p.EndAt.Sub(p.StartAt)
}
