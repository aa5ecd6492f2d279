package models

import (
	"time"

	"github.com/google/uuid"
)

// EncodeStatusComplete marks an asset whose encode pipeline finished and is schedulable.
const EncodeStatusComplete = "COMPLETE"

// LiveStream is one channel whose schedule is made of slots.
type LiveStream struct {
	ID              string        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          string        `gorm:"type:uuid;index;not null" json:"user_id"`
	Username        string        `gorm:"type:varchar(255)" json:"username"`
	MediaSpaceID    string        `gorm:"type:uuid;index;not null" json:"media_space_id"`
	Name            string        `gorm:"type:varchar(255);not null" json:"name"`
	DefaultSlotName string        `gorm:"type:varchar(255)" json:"default_slot_name,omitempty"`
	DefaultConfig   *PolicyConfig `gorm:"type:jsonb;serializer:json" json:"default_config,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (LiveStream) TableName() string {
	return "live_streams"
}

// NewLiveStream creates a live stream owned by userID.
func NewLiveStream(userID, mediaSpaceID, name string) *LiveStream {
	return &LiveStream{
		ID:           uuid.NewString(),
		UserID:       userID,
		MediaSpaceID: mediaSpaceID,
		Name:         name,
	}
}

// Ad break trigger modes.
const (
	AdBasedOnDuration = "duration"
	AdBasedOnPrograms = "programs"
)

// PolicyConfig is the fill policy stored either on a SlotConfig or as the
// stream-wide default. SlotLength and AdAfter.Duration are in seconds.
type PolicyConfig struct {
	SlotLength    int           `json:"slot_length" yaml:"slot_length"`
	AdConfig      AdConfig      `json:"ad_config" yaml:"ad_config"`
	ContentConfig ContentConfig `json:"content_config" yaml:"content_config"`
	Fillers       FillerConfig  `json:"fillers" yaml:"fillers"`
}

// AdConfig controls ad break insertion.
type AdConfig struct {
	Ads                bool     `json:"ads" yaml:"ads"`
	AdBasedOn          string   `json:"ad_based_on" yaml:"ad_based_on"`
	AdAfter            AdAfter  `json:"ad_after" yaml:"ad_after"`
	NoAdsPerBreak      int      `json:"no_ads_per_break" yaml:"no_ads_per_break"`
	ContentPromos      bool     `json:"content_promos" yaml:"content_promos"`
	PromosPerBreak     int      `json:"promos_per_break" yaml:"promos_per_break"`
	DefaultAdCampaigns []string `json:"default_ad_campaigns,omitempty" yaml:"default_ad_campaigns"`
}

// AdAfter is the break threshold: seconds of content or number of programs.
type AdAfter struct {
	Duration int `json:"duration" yaml:"duration"`
	Programs int `json:"programs" yaml:"programs"`
}

// ContentConfig filters programmable content.
type ContentConfig struct {
	Categories []string   `json:"categories,omitempty" yaml:"categories"`
	Tags       TagFilters `json:"tags" yaml:"tags"`
}

// TagFilters includes or excludes assets by tag.
type TagFilters struct {
	Include []string `json:"include,omitempty" yaml:"include"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude"`
}

// FillerConfig selects the filler pool.
type FillerConfig struct {
	Categories []string `json:"categories,omitempty" yaml:"categories"`
	Tags       []string `json:"tags,omitempty" yaml:"tags"`
}

// SlotConfig is a named per-slot policy that overrides the stream default.
type SlotConfig struct {
	ID           string       `gorm:"type:uuid;primaryKey" json:"id"`
	LiveStreamID string       `gorm:"type:uuid;not null;uniqueIndex:idx_slot_config_stream_name" json:"live_stream_id"`
	Name         string       `gorm:"type:varchar(255);not null;uniqueIndex:idx_slot_config_stream_name" json:"name"`
	Config       PolicyConfig `gorm:"type:jsonb;serializer:json" json:"config"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (SlotConfig) TableName() string {
	return "slot_configs"
}

// Segment is one encoded chunk of an asset, in milliseconds from the asset start.
type Segment struct {
	StartMS int64 `json:"start_ms" yaml:"start_ms"`
	EndMS   int64 `json:"end_ms" yaml:"end_ms"`
}

// Length returns the segment duration in milliseconds.
func (s Segment) Length() int64 {
	return s.EndMS - s.StartMS
}

// Asset is an encoded media item. The scheduler only reads assets.
type Asset struct {
	ID           string     `gorm:"type:uuid;primaryKey" json:"id"`
	MediaSpaceID string     `gorm:"type:uuid;index;not null" json:"media_space_id"`
	Name         string     `gorm:"type:varchar(255);not null" json:"name"`
	Category     string     `gorm:"type:varchar(64);index" json:"category"`
	Type         string     `gorm:"type:varchar(32)" json:"type,omitempty"`
	Tags         []string   `gorm:"type:jsonb;serializer:json" json:"tags,omitempty"`
	EncodeStatus string     `gorm:"type:varchar(32);index" json:"encode_status"`
	Segments     []Segment  `gorm:"type:jsonb;serializer:json" json:"segments,omitempty"`
	DurationMS   int64      `json:"duration_ms"`
	Path         string     `gorm:"type:text" json:"path,omitempty"`
	Thumbnail    string     `gorm:"type:text" json:"thumbnail,omitempty"`
	RecencyAt    *time.Time `gorm:"index" json:"recency_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Asset) TableName() string {
	return "assets"
}

// Playable reports whether the asset finished encoding.
func (a *Asset) Playable() bool {
	return a != nil && a.EncodeStatus == EncodeStatusComplete
}

// PlayableSegments returns the encode segments, or the whole asset as a
// single segment when none were recorded.
func (a *Asset) PlayableSegments() []Segment {
	if len(a.Segments) > 0 {
		return a.Segments
	}
	if a.DurationMS <= 0 {
		return nil
	}
	return []Segment{{StartMS: 0, EndMS: a.DurationMS}}
}

// Length returns the playable duration in milliseconds.
func (a *Asset) Length() int64 {
	if a.DurationMS > 0 {
		return a.DurationMS
	}
	var total int64
	for _, seg := range a.Segments {
		total += seg.Length()
	}
	return total
}

// HasTag reports whether the asset carries tag (case-sensitive).
func (a *Asset) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
