/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package seed loads live streams, policies, assets and campaigns from a YAML
// document. Records are upserted by id, so a file whose campaigns all carry
// ids can be applied again without duplicating anything.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/slotconfig"
)

// Document is the top level of a seed file.
type Document struct {
	LiveStreams []LiveStream `yaml:"live_streams"`
	Assets      []Asset      `yaml:"assets"`
	Campaigns   []Campaign   `yaml:"campaigns"`
}

// LiveStream describes a channel plus its named slot configs.
type LiveStream struct {
	ID              string               `yaml:"id"`
	UserID          string               `yaml:"user_id"`
	Username        string               `yaml:"username"`
	MediaSpaceID    string               `yaml:"media_space_id"`
	Name            string               `yaml:"name"`
	DefaultSlotName string               `yaml:"default_slot_name"`
	DefaultConfig   *models.PolicyConfig `yaml:"default_config"`
	SlotConfigs     []SlotConfig         `yaml:"slot_configs"`
}

// SlotConfig is a named policy.
type SlotConfig struct {
	Name   string              `yaml:"name"`
	Config models.PolicyConfig `yaml:"config"`
}

// Asset mirrors models.Asset with durations in seconds.
type Asset struct {
	ID           string           `yaml:"id"`
	MediaSpaceID string           `yaml:"media_space_id"`
	Name         string           `yaml:"name"`
	Category     string           `yaml:"category"`
	Type         string           `yaml:"type"`
	Tags         []string         `yaml:"tags"`
	EncodeStatus string           `yaml:"encode_status"`
	Duration     float64          `yaml:"duration"`
	Segments     []models.Segment `yaml:"segments"`
	Path         string           `yaml:"path"`
	Thumbnail    string           `yaml:"thumbnail"`
	RecencyAt    *time.Time       `yaml:"recency_at"`
}

// Campaign mirrors models.AdCampaign.
type Campaign struct {
	ID               string `yaml:"id"`
	LiveStreamID     string `yaml:"live_stream_id"`
	SlotID           string `yaml:"slot_id"`
	Name             string `yaml:"name"`
	AssetID          string `yaml:"asset_id"`
	Type             string `yaml:"type"`
	FrequencyPerSlot int    `yaml:"frequency_per_slot"`
	RepeatMinutes    *int   `yaml:"repeat_minutes"`
	Frequency        *int   `yaml:"frequency"`
	Position         int    `yaml:"position"`
	Active           *bool  `yaml:"active"`
}

// Summary counts what Apply wrote.
type Summary struct {
	LiveStreams int
	SlotConfigs int
	Assets      int
	Campaigns   int
}

// Parse decodes a seed document. Unknown keys are rejected.
func Parse(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return &doc, nil
		}
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ParseFile reads and decodes path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func (d *Document) validate() error {
	for i, ls := range d.LiveStreams {
		if ls.ID == "" || ls.UserID == "" || ls.MediaSpaceID == "" || ls.Name == "" {
			return fmt.Errorf("live_streams[%d]: id, user_id, media_space_id and name are required", i)
		}
		for j, sc := range ls.SlotConfigs {
			if sc.Name == "" {
				return fmt.Errorf("live_streams[%d].slot_configs[%d]: name is required", i, j)
			}
		}
	}
	for i, a := range d.Assets {
		if a.ID == "" || a.MediaSpaceID == "" || a.Name == "" {
			return fmt.Errorf("assets[%d]: id, media_space_id and name are required", i)
		}
		if a.Duration < 0 {
			return fmt.Errorf("assets[%d]: duration must not be negative", i)
		}
		var prevEnd int64
		for j, seg := range a.Segments {
			if seg.Length() <= 0 {
				return fmt.Errorf("assets[%d].segments[%d]: end_ms must be after start_ms", i, j)
			}
			if seg.StartMS < prevEnd {
				return fmt.Errorf("assets[%d].segments[%d]: overlaps the previous segment", i, j)
			}
			prevEnd = seg.EndMS
		}
	}
	for i, c := range d.Campaigns {
		if c.LiveStreamID == "" || c.AssetID == "" {
			return fmt.Errorf("campaigns[%d]: live_stream_id and asset_id are required", i)
		}
		switch c.Type {
		case "", models.CampaignAd, models.CampaignPromo, models.CampaignBug:
		default:
			return fmt.Errorf("campaigns[%d]: unknown type %q", i, c.Type)
		}
	}
	return nil
}

// Importer writes seed documents to the database.
type Importer struct {
	db      *gorm.DB
	configs *slotconfig.Resolver
	logger  zerolog.Logger
}

// NewImporter creates an importer. Policies go through configs so they are
// validated and cached entries are dropped.
func NewImporter(db *gorm.DB, configs *slotconfig.Resolver, logger zerolog.Logger) *Importer {
	return &Importer{db: db, configs: configs, logger: logger.With().Str("component", "seed").Logger()}
}

// Apply upserts assets, live streams, their policies and campaigns, in that order.
func (im *Importer) Apply(ctx context.Context, doc *Document) (Summary, error) {
	var sum Summary
	db := im.db.WithContext(ctx)

	for _, a := range doc.Assets {
		asset := a.model()
		if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&asset).Error; err != nil {
			return sum, fmt.Errorf("upsert asset %s: %w", a.ID, err)
		}
		sum.Assets++
	}

	for _, ls := range doc.LiveStreams {
		stream := models.LiveStream{
			ID:              ls.ID,
			UserID:          ls.UserID,
			Username:        ls.Username,
			MediaSpaceID:    ls.MediaSpaceID,
			Name:            ls.Name,
			DefaultSlotName: ls.DefaultSlotName,
		}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "username", "media_space_id", "name", "default_slot_name", "updated_at"}),
		}).Create(&stream).Error
		if err != nil {
			return sum, fmt.Errorf("upsert live stream %s: %w", ls.ID, err)
		}
		sum.LiveStreams++

		if ls.DefaultConfig != nil {
			if err := im.configs.SetStreamDefault(ctx, ls.ID, *ls.DefaultConfig); err != nil {
				return sum, fmt.Errorf("live stream %s default config: %w", ls.ID, err)
			}
		}
		for _, sc := range ls.SlotConfigs {
			if _, err := im.configs.Upsert(ctx, ls.ID, sc.Name, sc.Config); err != nil {
				return sum, fmt.Errorf("live stream %s slot config %q: %w", ls.ID, sc.Name, err)
			}
			sum.SlotConfigs++
		}
	}

	for _, c := range doc.Campaigns {
		campaign := c.model()
		if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&campaign).Error; err != nil {
			return sum, fmt.Errorf("upsert campaign %s: %w", campaign.ID, err)
		}
		// Create skips a false Active because the column defaults to true.
		if !campaign.Active {
			if err := db.Model(&campaign).Update("active", false).Error; err != nil {
				return sum, fmt.Errorf("deactivate campaign %s: %w", campaign.ID, err)
			}
		}
		sum.Campaigns++
	}

	im.logger.Info().
		Int("live_streams", sum.LiveStreams).
		Int("slot_configs", sum.SlotConfigs).
		Int("assets", sum.Assets).
		Int("campaigns", sum.Campaigns).
		Msg("seed applied")
	return sum, nil
}

func (a Asset) model() models.Asset {
	status := a.EncodeStatus
	if status == "" {
		status = models.EncodeStatusComplete
	}
	return models.Asset{
		ID:           a.ID,
		MediaSpaceID: a.MediaSpaceID,
		Name:         a.Name,
		Category:     a.Category,
		Type:         a.Type,
		Tags:         a.Tags,
		EncodeStatus: status,
		Segments:     a.Segments,
		DurationMS:   int64(a.Duration * 1000),
		Path:         a.Path,
		Thumbnail:    a.Thumbnail,
		RecencyAt:    a.RecencyAt,
	}
}

func (c Campaign) model() models.AdCampaign {
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	kind := c.Type
	if kind == "" {
		kind = models.CampaignAd
	}
	active := true
	if c.Active != nil {
		active = *c.Active
	}
	return models.AdCampaign{
		ID:               id,
		LiveStreamID:     c.LiveStreamID,
		SlotID:           c.SlotID,
		Name:             c.Name,
		AssetID:          c.AssetID,
		Type:             kind,
		FrequencyPerSlot: c.FrequencyPerSlot,
		RepeatMinutes:    c.RepeatMinutes,
		Frequency:        c.Frequency,
		Position:         c.Position,
		Active:           active,
	}
}
