/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package overlay expands repeating overlay definitions into cue times.
package overlay

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// ErrIndexOutOfRange is returned when an overlay index does not exist.
var ErrIndexOutOfRange = errors.New("overlay index out of range")

// Expand returns the cue times for o. The first cue is always o.StartAt.
// With a repeat interval, further cues are added every Repeat minutes while
// they fall strictly before slotEnd, and at most Frequency of them when a cap
// is set.
func Expand(o models.Overlay, slotEnd time.Time) []time.Time {
	cues := []time.Time{o.StartAt}
	if o.Repeat == nil || *o.Repeat <= 0 || !o.StartAt.Before(slotEnd) {
		return cues
	}
	if o.Frequency != nil && *o.Frequency <= 0 {
		return cues
	}

	// rrule works on whole seconds; carry the remainder separately.
	base := o.StartAt.Truncate(time.Second)
	frac := o.StartAt.Sub(base)

	opt := rrule.ROption{
		Freq:     rrule.MINUTELY,
		Interval: *o.Repeat,
		Dtstart:  base,
		Until:    slotEnd.Add(-frac),
	}
	if o.Frequency != nil {
		opt.Count = *o.Frequency + 1
	}
	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return cues
	}

	for _, t := range rule.All() {
		cue := t.Add(frac)
		if !cue.After(o.StartAt) {
			continue
		}
		if !cue.Before(slotEnd) {
			break
		}
		cues = append(cues, cue)
	}
	return cues
}

// Defaults lays out one overlay per bug campaign, the i-th starting i+1
// minutes into the slot and lasting as long as its asset.
func Defaults(slot *models.Slot, bugs []models.AdCampaign, assets map[string]models.Asset) []models.Overlay {
	out := make([]models.Overlay, 0, len(bugs))
	for i, c := range bugs {
		if c.Type != models.CampaignBug {
			continue
		}
		start := slot.StartAt.Add(time.Duration(i+1) * time.Minute)
		end := start
		if a, ok := assets[c.AssetID]; ok {
			end = start.Add(time.Duration(a.Length()) * time.Millisecond)
		}
		out = append(out, models.Overlay{
			StartAt:   start,
			EndAt:     end,
			AssetID:   c.AssetID,
			Repeat:    c.RepeatMinutes,
			Frequency: c.Frequency,
		})
	}
	return out
}

// Layout returns the slot's overlays with cue times filled in. When the slot
// has none of its own, the bug campaigns are used.
func Layout(slot *models.Slot, bugs []models.AdCampaign, assets map[string]models.Asset) []models.Overlay {
	src := slot.Overlays
	if len(src) == 0 {
		src = Defaults(slot, bugs, assets)
	}
	out := make([]models.Overlay, len(src))
	for i, o := range src {
		o.Pts = Expand(o, slot.EndAt)
		out[i] = o
	}
	return out
}

// Validate checks an overlay against its slot window.
func Validate(o models.Overlay, slot *models.Slot) error {
	if o.AssetID == "" {
		return errors.New("overlay asset is required")
	}
	if !o.StartAt.Before(o.EndAt) {
		return errors.New("overlay start must be before end")
	}
	if o.StartAt.Before(slot.StartAt) || !o.StartAt.Before(slot.EndAt) {
		return errors.New("overlay must start inside the slot")
	}
	if o.Repeat != nil && *o.Repeat < 0 {
		return errors.New("overlay repeat must not be negative")
	}
	if o.Frequency != nil && *o.Frequency < 0 {
		return errors.New("overlay frequency must not be negative")
	}
	return nil
}

// Insert appends o to the list.
func Insert(list []models.Overlay, o models.Overlay) []models.Overlay {
	o.Pts = nil
	return append(append([]models.Overlay(nil), list...), o)
}

// Replace swaps the overlay at index.
func Replace(list []models.Overlay, index int, o models.Overlay) ([]models.Overlay, error) {
	if index < 0 || index >= len(list) {
		return nil, ErrIndexOutOfRange
	}
	out := append([]models.Overlay(nil), list...)
	o.Pts = nil
	out[index] = o
	return out, nil
}

// Remove drops the overlay at index.
func Remove(list []models.Overlay, index int) ([]models.Overlay, error) {
	if index < 0 || index >= len(list) {
		return nil, ErrIndexOutOfRange
	}
	out := make([]models.Overlay, 0, len(list)-1)
	out = append(out, list[:index]...)
	return append(out, list[index+1:]...), nil
}
