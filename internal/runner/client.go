/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package runner notifies the external playback runner of committed slots.
package runner

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

// DateLayout is the format of Payload.Date.
const DateLayout = "2006-01-02"

// Payload is the generate-playlist request body.
type Payload struct {
	Date     string       `json:"date"`
	Slot     *models.Slot `json:"slot"`
	Username string       `json:"username"`
}

// NewPayload builds the payload for a slot, dated by the slot's start.
func NewPayload(slot *models.Slot, username string) Payload {
	return Payload{
		Date:     slot.StartAt.UTC().Format(DateLayout),
		Slot:     slot,
		Username: username,
	}
}

// StatusError is returned for non-2xx runner responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("runner returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("runner returned status %d: %s", e.StatusCode, e.Body)
}

// Notifier is what the push committer needs from the runner.
type Notifier interface {
	GeneratePlaylist(ctx context.Context, userID, liveStreamID string, payload Payload) error
}

// Config configures the runner client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client posts playlists to the runner.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  zerolog.Logger
}

// NewClient creates a runner client. Requests carry trace context.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client: &http.Client{
			Timeout:   timeout,
			Transport: telemetry.HTTPTransport(nil),
		},
		logger: logger.With().Str("component", "runner").Logger(),
	}
}

// GeneratePlaylist sends one POST to
// {base}/users/{userID}/live-streams/{liveStreamID}/generate-playlist.
func (c *Client) GeneratePlaylist(ctx context.Context, userID, liveStreamID string, payload Payload) error {
	if c.baseURL == "" {
		return fmt.Errorf("runner base url not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/users/%s/live-streams/%s/generate-playlist",
		c.baseURL, url.PathEscape(userID), url.PathEscape(liveStreamID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Grimnir-Playout/1.0")
	req.Header.Set("X-Grimnir-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("X-Grimnir-Signature", sign(body, c.token))
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		telemetry.RunnerRequestDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		c.logger.Error().Err(err).Str("live_stream_id", liveStreamID).Msg("runner request failed")
		return fmt.Errorf("post generate-playlist: %w", err)
	}
	defer resp.Body.Close()

	telemetry.RunnerRequestDuration.WithLabelValues(strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn().
			Str("live_stream_id", liveStreamID).
			Int("status", resp.StatusCode).
			Msg("runner returned error status")
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	c.logger.Debug().
		Str("live_stream_id", liveStreamID).
		Str("date", payload.Date).
		Int("status", resp.StatusCode).
		Msg("playlist delivered")
	return nil
}

// sign creates an HMAC-SHA256 signature of the body.
func sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
