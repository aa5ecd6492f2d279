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

type fillRequest struct {
	Append   bool   `json:"append"`
	Duration int    `json:"duration"` // seconds
	AssetID  string `json:"assetId"`
}

type replaceRequest struct {
	From     *time.Time           `json:"from"`
	To       *time.Time           `json:"to"`
	Programs []slots.ProgramInput `json:"programs"`
}

func (a *API) handleProgramsList(w http.ResponseWriter, r *http.Request) {
	programs, err := a.slots.ListPrograms(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"programs": programs})
}

func (a *API) handleProgramsAdd(w http.ResponseWriter, r *http.Request) {
	var in slots.ProgramInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.AssetID == "" {
		writeError(w, http.StatusBadRequest, "asset_id_required")
		return
	}
	in.AddedBy = actor(r)

	added, err := a.slots.AddProgram(r.Context(), chi.URLParam(r, "slotID"), in)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"programs": added})
}

func (a *API) handleProgramUpdate(w http.ResponseWriter, r *http.Request) {
	var in slots.ProgramInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.AddedBy = actor(r)

	updated, err := a.slots.UpdateProgram(r.Context(), chi.URLParam(r, "programID"), in)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"programs": updated})
}

func (a *API) handleProgramDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.slots.DeleteProgram(r.Context(), chi.URLParam(r, "programID")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleProgramsFill(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.Duration < 0 {
		writeError(w, http.StatusBadRequest, "invalid_duration")
		return
	}

	res, err := a.slots.Fill(r.Context(), chi.URLParam(r, "slotID"), slots.FillOptions{
		Append:   req.Append,
		Duration: time.Duration(req.Duration) * time.Second,
		AssetID:  req.AssetID,
		AddedBy:  actor(r),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"programs":  res.Programs,
		"filled":    res.Filled.Seconds(),
		"ad_breaks": res.AdBreaks,
	})
}

func (a *API) handleProgramsClear(w http.ResponseWriter, r *http.Request) {
	deleted, err := a.slots.Clear(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (a *API) handleProgramsReplace(w http.ResponseWriter, r *http.Request) {
	var req replaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var from, to time.Time
	if req.From != nil {
		from = *req.From
	}
	if req.To != nil {
		to = *req.To
	}
	by := actor(r)
	for i := range req.Programs {
		req.Programs[i].AddedBy = by
	}

	inserted, err := a.slots.UpdatePrograms(r.Context(), chi.URLParam(r, "slotID"), from, to, req.Programs)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"programs": inserted})
}

func (a *API) handleOverlaysAdd(w http.ResponseWriter, r *http.Request) {
	var o models.Overlay
	if !decodeJSON(w, r, &o) {
		return
	}
	list, err := a.slots.AddOverlay(r.Context(), chi.URLParam(r, "slotID"), o)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"overlays": list})
}

func (a *API) handleOverlaysUpdate(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	var o models.Overlay
	if !decodeJSON(w, r, &o) {
		return
	}
	list, err := a.slots.UpdateOverlay(r.Context(), chi.URLParam(r, "slotID"), index, o)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overlays": list})
}

func (a *API) handleOverlaysDelete(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	list, err := a.slots.DeleteOverlay(r.Context(), chi.URLParam(r, "slotID"), index)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overlays": list})
}

func (a *API) handleOverlayCues(w http.ResponseWriter, r *http.Request) {
	cues, err := a.slots.OverlayCues(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overlays": cues})
}
