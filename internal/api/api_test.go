/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/grimnir_playout/internal/auth"
	"github.com/friendsincode/grimnir_playout/internal/catalog"
	"github.com/friendsincode/grimnir_playout/internal/db"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/media"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/playout"
	"github.com/friendsincode/grimnir_playout/internal/runner"
	"github.com/friendsincode/grimnir_playout/internal/slotconfig"
	"github.com/friendsincode/grimnir_playout/internal/slots"
)

var (
	testSecret = []byte("test-secret")
	ten        = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
)

type testEnv struct {
	router http.Handler
	db     *gorm.DB
	bus    *events.Bus
	stream *models.LiveStream
	token  string
}

func newTestEnv(t *testing.T, runnerStatus int) *testEnv {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite db: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	stream := models.NewLiveStream("user-1", "ms-1", "main")
	stream.Username = "dj"
	stream.DefaultConfig = &models.PolicyConfig{
		SlotLength:    3600,
		ContentConfig: models.ContentConfig{Categories: []string{"scene"}},
	}
	if err := gdb.Create(stream).Error; err != nil {
		t.Fatalf("create stream: %v", err)
	}
	asset := models.Asset{
		ID:           "show",
		MediaSpaceID: "ms-1",
		Name:         "Show",
		Category:     "scene",
		EncodeStatus: models.EncodeStatusComplete,
		Path:         "/shows/show.mp4",
		DurationMS:   1_800_000,
	}
	if err := gdb.Create(&asset).Error; err != nil {
		t.Fatalf("create asset: %v", err)
	}

	runnerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(runnerStatus)
	}))
	t.Cleanup(runnerSrv.Close)

	logger := zerolog.Nop()
	bus := events.NewBus()
	clock := func() time.Time { return ten.Add(20 * time.Minute) }
	slotSvc := slots.New(gdb,
		catalog.NewReader(gdb, logger),
		slotconfig.NewResolver(gdb, nil, bus, logger),
		nil, bus,
		slots.Options{RandomSeed: 1, Now: clock},
		logger)
	paths := media.NewServiceWithStorage(media.NewFilesystemStorage("/srv/media", logger), logger)
	committer := playout.NewCommitter(gdb, slotSvc, paths, runner.NewClient(runner.Config{BaseURL: runnerSrv.URL}, logger), bus, clock, logger)

	r := chi.NewRouter()
	New(slotSvc, committer, bus, testSecret, logger).Routes(r)

	token, err := auth.Issue(testSecret, auth.Claims{UserID: "user-1", Username: "dj"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return &testEnv{router: r, db: gdb, bus: bus, stream: stream, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body["error"]
}

func (e *testEnv) createSlot(t *testing.T, start time.Time) models.Slot {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/v1/live-streams/"+e.stream.ID+"/slots", map[string]any{
		"name":     "evening",
		"start_at": start,
		"end_at":   start.Add(time.Hour),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create slot: %d %s", rr.Code, rr.Body.String())
	}
	var slot models.Slot
	if err := json.Unmarshal(rr.Body.Bytes(), &slot); err != nil {
		t.Fatalf("decode slot: %v", err)
	}
	return slot
}

func TestRequiresToken(t *testing.T) {
	env := newTestEnv(t, http.StatusOK)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/slots/x", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("health should be public, got %d", rr.Code)
	}
}

func TestSlotErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t, http.StatusOK)
	slot := env.createSlot(t, ten)

	rr := env.do(t, http.MethodPost, "/api/v1/live-streams/"+env.stream.ID+"/slots", map[string]any{
		"name":     "overlap",
		"start_at": ten.Add(30 * time.Minute),
		"end_at":   ten.Add(90 * time.Minute),
	})
	if rr.Code != http.StatusBadRequest || decodeError(t, rr) != "overlap_conflict" {
		t.Fatalf("expected 400 overlap_conflict, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/api/v1/slots/missing", nil)
	if rr.Code != http.StatusNotFound || decodeError(t, rr) != "not_found" {
		t.Fatalf("expected 404 not_found, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/api/v1/slots/"+slot.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get slot: %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/live-streams/"+env.stream.ID+"/slots?from=bad", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", rr.Code)
	}
}

func TestProgramEndpoints(t *testing.T) {
	env := newTestEnv(t, http.StatusOK)
	slot := env.createSlot(t, ten)
	base := "/api/v1/slots/" + slot.ID + "/programs"

	rr := env.do(t, http.MethodPost, base, map[string]any{
		"asset_id": "show",
		"start_at": ten.Add(10 * time.Minute),
		"end_at":   ten.Add(25 * time.Minute),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add program: %d %s", rr.Code, rr.Body.String())
	}
	var added struct {
		Programs []models.Program `json:"programs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &added); err != nil {
		t.Fatalf("decode programs: %v", err)
	}
	if len(added.Programs) != 1 || added.Programs[0].AddedBy != "dj" {
		t.Fatalf("program should be attributed to the caller: %+v", added.Programs)
	}

	rr = env.do(t, http.MethodPost, base, map[string]any{
		"asset_id": "show",
		"start_at": ten.Add(15 * time.Minute),
		"end_at":   ten.Add(20 * time.Minute),
	})
	if rr.Code != http.StatusBadRequest || decodeError(t, rr) != "duplicate_time_slot" {
		t.Fatalf("expected duplicate_time_slot, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPut, base, map[string]any{
		"programs": []map[string]any{
			{"asset_id": "show", "start_at": ten, "end_at": ten.Add(5 * time.Minute)},
			{"asset_id": "show", "start_at": ten.Add(2 * time.Minute), "end_at": ten.Add(7 * time.Minute)},
		},
	})
	if rr.Code != http.StatusBadRequest || decodeError(t, rr) != "transaction_aborted" {
		t.Fatalf("expected aborted replacement, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, base+"/fill", map[string]any{"append": false})
	if rr.Code != http.StatusOK {
		t.Fatalf("fill: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodDelete, base, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear: %d %s", rr.Code, rr.Body.String())
	}
}

func TestPushRunnerFailureIs502(t *testing.T) {
	env := newTestEnv(t, http.StatusInternalServerError)
	slot := env.createSlot(t, ten)

	rr := env.do(t, http.MethodPost, "/api/v1/slots/"+slot.ID+"/push", nil)
	if rr.Code != http.StatusBadGateway || decodeError(t, rr) != "runner_request_failed" {
		t.Fatalf("expected 502, got %d %s", rr.Code, rr.Body.String())
	}

	var stored models.Slot
	if err := env.db.First(&stored, "id = ?", slot.ID).Error; err != nil {
		t.Fatalf("load slot: %v", err)
	}
	if stored.PushAt != nil {
		t.Fatalf("push_at should stay unset, got %v", stored.PushAt)
	}
}

func TestPushNextEndpoint(t *testing.T) {
	env := newTestEnv(t, http.StatusOK)

	rr := env.do(t, http.MethodPost, "/api/v1/live-streams/"+env.stream.ID+"/push-next", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("push-next: %d %s", rr.Code, rr.Body.String())
	}
	var res playout.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Slot == nil || res.Slot.PushAt == nil || res.Entries == 0 {
		t.Fatalf("unexpected push result %+v", res)
	}
}

func TestSlotConfigEndpoints(t *testing.T) {
	env := newTestEnv(t, http.StatusOK)
	path := "/api/v1/live-streams/" + env.stream.ID + "/slot-configs/evening"

	rr := env.do(t, http.MethodGet, path, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before upsert, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, path, models.PolicyConfig{SlotLength: 0})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid policy, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, path, models.PolicyConfig{SlotLength: 5400})
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert: %d %s", rr.Code, rr.Body.String())
	}
	var sc models.SlotConfig
	if err := json.Unmarshal(rr.Body.Bytes(), &sc); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if sc.Config.SlotLength != 5400 {
		t.Fatalf("unexpected config %+v", sc)
	}
}

func TestOverlayEndpoints(t *testing.T) {
	env := newTestEnv(t, http.StatusOK)
	slot := env.createSlot(t, ten)
	base := "/api/v1/slots/" + slot.ID + "/overlays"

	rr := env.do(t, http.MethodPost, base, map[string]any{
		"asset_id": "show",
		"start_at": ten.Add(5 * time.Minute),
		"end_at":   ten.Add(6 * time.Minute),
		"repeat":   30,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add overlay: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, base+"/cues", nil)
	var cues struct {
		Overlays []models.Overlay `json:"overlays"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &cues); err != nil {
		t.Fatalf("decode cues: %v", err)
	}
	if len(cues.Overlays) != 1 || len(cues.Overlays[0].Pts) != 2 {
		t.Fatalf("expected cues at 10:05 and 10:35, got %+v", cues.Overlays)
	}

	rr = env.do(t, http.MethodDelete, base+"/3", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing index, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodDelete, base+"/abc", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad index, got %d", rr.Code)
	}
}

func TestEventsWebSocket(t *testing.T) {
	env := newTestEnv(t, http.StatusOK)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events?types=slot.created"
	conn, _, err := ws.Dial(ctx, url, &ws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + env.token}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "done")

	// Subscription happens after the upgrade; keep publishing until one lands.
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				env.bus.Publish(events.EventSlotCreated, events.Payload{"slot_id": "s1"})
			}
		}
	}()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if msg.Type != string(events.EventSlotCreated) || msg.Payload["slot_id"] != "s1" {
		t.Fatalf("unexpected event %+v", msg)
	}
}
