/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/slots"
)

type slotRequest struct {
	Name    string     `json:"name"`
	StartAt *time.Time `json:"start_at"`
	EndAt   *time.Time `json:"end_at"`
}

func (a *API) handleSlotsList(w http.ResponseWriter, r *http.Request) {
	from, ok := parseTimeParam(r, "from")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_from")
		return
	}
	to, ok := parseTimeParam(r, "to")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_to")
		return
	}

	list, err := a.slots.ListSlots(r.Context(), chi.URLParam(r, "streamID"), from, to)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": list})
}

func (a *API) handleSlotsCreate(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StartAt == nil || req.EndAt == nil {
		writeError(w, http.StatusBadRequest, "start_at_and_end_at_required")
		return
	}

	slot, err := a.slots.CreateSlot(r.Context(), chi.URLParam(r, "streamID"), req.Name, *req.StartAt, *req.EndAt)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

func (a *API) handleSlotsNext(w http.ResponseWriter, r *http.Request) {
	slot, err := a.slots.CreateNextSlot(r.Context(), chi.URLParam(r, "streamID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (a *API) handleSlotGet(w http.ResponseWriter, r *http.Request) {
	slot, err := a.slots.GetSlot(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (a *API) handleSlotUpdate(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	upd := slots.SlotUpdate{StartAt: req.StartAt, EndAt: req.EndAt}
	if req.Name != "" {
		upd.Name = &req.Name
	}

	slot, err := a.slots.UpdateSlot(r.Context(), chi.URLParam(r, "slotID"), upd)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (a *API) handleSlotDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.slots.DeleteSlot(r.Context(), chi.URLParam(r, "slotID")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePush(w http.ResponseWriter, r *http.Request) {
	res, err := a.playout.Push(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handlePushNext(w http.ResponseWriter, r *http.Request) {
	res, err := a.playout.PushNext(r.Context(), chi.URLParam(r, "streamID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSlotConfigGet(w http.ResponseWriter, r *http.Request) {
	sc, err := a.configs.Get(r.Context(), chi.URLParam(r, "streamID"), chi.URLParam(r, "name"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (a *API) handleSlotConfigPut(w http.ResponseWriter, r *http.Request) {
	var policy models.PolicyConfig
	if !decodeJSON(w, r, &policy) {
		return
	}
	sc, err := a.configs.Upsert(r.Context(), chi.URLParam(r, "streamID"), chi.URLParam(r, "name"), policy)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (a *API) handleDefaultConfigPut(w http.ResponseWriter, r *http.Request) {
	var policy models.PolicyConfig
	if !decodeJSON(w, r, &policy) {
		return
	}
	if err := a.configs.SetStreamDefault(r.Context(), chi.URLParam(r, "streamID"), policy); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}
