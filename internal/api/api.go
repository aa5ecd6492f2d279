/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the slot, program and push operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/grimnir_playout/internal/auth"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/playout"
	"github.com/friendsincode/grimnir_playout/internal/playouterr"
	"github.com/friendsincode/grimnir_playout/internal/slotconfig"
	"github.com/friendsincode/grimnir_playout/internal/slots"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

// API exposes HTTP handlers.
type API struct {
	slots     *slots.Service
	playout   *playout.Committer
	configs   *slotconfig.Resolver
	bus       *events.Bus
	jwtSecret []byte
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(slotSvc *slots.Service, committer *playout.Committer, bus *events.Bus, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		slots:     slotSvc,
		playout:   committer,
		configs:   slotSvc.Configs(),
		bus:       bus,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts the API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Get("/events", a.handleEvents)

			pr.Route("/live-streams/{streamID}", func(r chi.Router) {
				r.Get("/slots", a.handleSlotsList)
				r.Post("/slots", a.handleSlotsCreate)
				r.Post("/slots/next", a.handleSlotsNext)
				r.Post("/push-next", a.handlePushNext)
				r.Put("/default-config", a.handleDefaultConfigPut)
				r.Get("/slot-configs/{name}", a.handleSlotConfigGet)
				r.Put("/slot-configs/{name}", a.handleSlotConfigPut)
			})

			pr.Route("/slots/{slotID}", func(r chi.Router) {
				r.Get("/", a.handleSlotGet)
				r.Put("/", a.handleSlotUpdate)
				r.Delete("/", a.handleSlotDelete)

				r.Get("/programs", a.handleProgramsList)
				r.Post("/programs", a.handleProgramsAdd)
				r.Put("/programs", a.handleProgramsReplace)
				r.Delete("/programs", a.handleProgramsClear)
				r.Post("/programs/fill", a.handleProgramsFill)

				r.Post("/push", a.handlePush)

				r.Post("/overlays", a.handleOverlaysAdd)
				r.Get("/overlays/cues", a.handleOverlayCues)
				r.Put("/overlays/{index}", a.handleOverlaysUpdate)
				r.Delete("/overlays/{index}", a.handleOverlaysDelete)
			})

			pr.Route("/programs/{programID}", func(r chi.Router) {
				r.Put("/", a.handleProgramUpdate)
				r.Delete("/", a.handleProgramDelete)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.AllTypes
	}

	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, a.bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	// Reads only detect the client going away.
	ctx = conn.CloseRead(ctx)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload := <-sub:
					if err := a.writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						a.logger.Debug().Err(err).Msg("websocket write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch kind := playouterr.KindOf(err); {
	case playouterr.IsBadRequest(err):
		return http.StatusBadRequest
	case kind == playouterr.NotFound:
		return http.StatusNotFound
	case kind == playouterr.RunnerRequestFailed:
		return http.StatusBadGateway
	case kind == playouterr.TransactionAborted && (playouterr.Is(err, playouterr.InvalidTimePeriod) ||
		playouterr.Is(err, playouterr.DuplicateTimeSlot) || playouterr.Is(err, playouterr.NotFound)):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes {"error": kind, "message": msg}.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := playouterr.KindOf(err)
	message := err.Error()
	var pe *playouterr.Error
	if errors.As(err, &pe) {
		message = pe.Message
		if pe.Err != nil && kind == playouterr.TransactionAborted {
			message = pe.Message + ": " + pe.Err.Error()
		}
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if kind == playouterr.StoreFailure {
			message = "storage failure"
		}
	}
	writeJSON(w, status, map[string]string{"error": string(kind), "message": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

func actor(r *http.Request) string {
	claims, _ := auth.ClaimsFromContext(r.Context())
	return claims.Actor()
}

// parseTimeParam reads an optional RFC3339 query parameter.
func parseTimeParam(r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func parseIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid_index")
		return 0, false
	}
	return index, true
}
