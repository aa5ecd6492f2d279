/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

func testSlot() *models.Slot {
	start := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	return &models.Slot{ID: "slot-1", LiveStreamID: "ls-1", Name: "late", StartAt: start, EndAt: start.Add(time.Hour)}
}

func TestGeneratePlaylistPostsPayload(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotSig  string
		got     Payload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotSig = r.Header.Get("X-Grimnir-Signature")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", Token: "secret", Timeout: time.Second}, zerolog.Nop())
	payload := NewPayload(testSlot(), "dj")

	if err := c.GeneratePlaylist(context.Background(), "user-1", "ls-1", payload); err != nil {
		t.Fatalf("GeneratePlaylist: %v", err)
	}
	if gotPath != "/users/user-1/live-streams/ls-1/generate-playlist" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer secret" || gotSig == "" {
		t.Fatalf("expected auth and signature headers, got %q %q", gotAuth, gotSig)
	}
	if got.Date != "2026-03-01" || got.Username != "dj" || got.Slot == nil || got.Slot.ID != "slot-1" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestGeneratePlaylistNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "runner down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, zerolog.Nop())
	err := c.GeneratePlaylist(context.Background(), "u", "ls", NewPayload(testSlot(), ""))

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError || statusErr.Body != "runner down" {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
}

func TestGeneratePlaylistWithoutBaseURL(t *testing.T) {
	c := NewClient(Config{}, zerolog.Nop())
	if err := c.GeneratePlaylist(context.Background(), "u", "ls", Payload{}); err == nil {
		t.Fatal("expected error without base url")
	}
}
