/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media turns stored asset paths into locations the runner can read.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/models"
)

// ErrNoPath is returned for assets without a stored path.
var ErrNoPath = errors.New("asset has no path")

// Storage resolves a stored path into a playable location.
type Storage interface {
	Locate(ctx context.Context, path string) (string, error)
	CheckAccess(ctx context.Context) error
}

// Service resolves asset paths for the push committer.
type Service struct {
	storage Storage
	logger  zerolog.Logger
}

// NewService picks S3 when a bucket is configured, the filesystem otherwise.
func NewService(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	logger = logger.With().Str("component", "media").Logger()

	var storage Storage
	if cfg.UseS3() {
		s3cfg := S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3UsePathStyle,
			PresignTTL:      cfg.S3PresignTTL,
		}
		if s3cfg.AccessKeyID == "" || s3cfg.SecretAccessKey == "" {
			logger.Warn().Msg("S3 credentials not configured, falling back to the default credential chain")
		}

		s3Storage, err := NewS3Storage(context.Background(), s3cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		storage = s3Storage
	} else {
		storage = NewFilesystemStorage(cfg.MediaRoot, logger)
	}

	return NewServiceWithStorage(storage, logger), nil
}

// NewServiceWithStorage wraps an existing backend.
func NewServiceWithStorage(storage Storage, logger zerolog.Logger) *Service {
	return &Service{storage: storage, logger: logger}
}

// PathFor returns the location of a completed asset. ok is false for assets
// that are not encoded or have nowhere to be read from.
func (s *Service) PathFor(ctx context.Context, asset *models.Asset) (string, bool) {
	if !asset.Playable() || asset.Path == "" {
		return "", false
	}
	loc, err := s.storage.Locate(ctx, asset.Path)
	if err != nil {
		s.logger.Warn().Err(err).Str("asset_id", asset.ID).Msg("cannot resolve asset path")
		return "", false
	}
	return loc, true
}

// CheckStorageAccess verifies that the storage backend is accessible.
func (s *Service) CheckStorageAccess() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.storage.CheckAccess(ctx)
}
