/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package overlay

import (
	"testing"
	"time"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

func intPtr(v int) *int { return &v }

var (
	slotStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	slotEnd   = slotStart.Add(time.Hour)
)

func TestExpandWithoutRepeat(t *testing.T) {
	o := models.Overlay{StartAt: slotStart.Add(5 * time.Minute), EndAt: slotStart.Add(6 * time.Minute)}
	cues := Expand(o, slotEnd)
	if len(cues) != 1 || !cues[0].Equal(o.StartAt) {
		t.Fatalf("expected only the start cue, got %v", cues)
	}
}

func TestExpandRepeatsUntilSlotEnd(t *testing.T) {
	o := models.Overlay{StartAt: slotStart.Add(10 * time.Minute), Repeat: intPtr(15)}
	cues := Expand(o, slotEnd)

	want := []time.Time{
		slotStart.Add(10 * time.Minute),
		slotStart.Add(25 * time.Minute),
		slotStart.Add(40 * time.Minute),
		slotStart.Add(55 * time.Minute),
	}
	if len(cues) != len(want) {
		t.Fatalf("got %d cues, want %d: %v", len(cues), len(want), cues)
	}
	for i := range want {
		if !cues[i].Equal(want[i]) {
			t.Fatalf("cue %d = %s, want %s", i, cues[i], want[i])
		}
	}
}

func TestExpandStopsBeforeExactSlotEnd(t *testing.T) {
	o := models.Overlay{StartAt: slotStart, Repeat: intPtr(30)}
	cues := Expand(o, slotEnd)
	if len(cues) != 2 {
		t.Fatalf("a cue landing on the slot end must be dropped, got %v", cues)
	}
}

func TestExpandFrequencyCap(t *testing.T) {
	o := models.Overlay{StartAt: slotStart, Repeat: intPtr(5), Frequency: intPtr(3)}
	cues := Expand(o, slotEnd)
	if len(cues) != 4 {
		t.Fatalf("expected start plus 3 repetitions, got %d", len(cues))
	}
	if !cues[3].Equal(slotStart.Add(15 * time.Minute)) {
		t.Fatalf("last cue = %s", cues[3])
	}

	o.Frequency = intPtr(0)
	if got := Expand(o, slotEnd); len(got) != 1 {
		t.Fatalf("zero frequency should keep only the start cue, got %d", len(got))
	}
}

func TestExpandKeepsSubSecondOffset(t *testing.T) {
	start := slotStart.Add(90*time.Second + 250*time.Millisecond)
	cues := Expand(models.Overlay{StartAt: start, Repeat: intPtr(20)}, slotEnd)
	if len(cues) != 3 {
		t.Fatalf("expected 3 cues, got %v", cues)
	}
	if !cues[1].Equal(start.Add(20 * time.Minute)) {
		t.Fatalf("cue 1 = %s", cues[1])
	}
}

func TestExpandTerminationBound(t *testing.T) {
	for repeat := 1; repeat <= 90; repeat++ {
		for _, offset := range []time.Duration{0, 7 * time.Minute, 59 * time.Minute, 2 * time.Hour} {
			start := slotStart.Add(offset)
			cues := Expand(models.Overlay{StartAt: start, Repeat: intPtr(repeat)}, slotEnd)

			bound := 1
			if slotEnd.After(start) {
				bound = int(slotEnd.Sub(start)/(time.Duration(repeat)*time.Minute)) + 1
			}
			if len(cues) > bound {
				t.Fatalf("repeat=%d offset=%s: %d cues exceeds bound %d", repeat, offset, len(cues), bound)
			}
			if !cues[0].Equal(start) {
				t.Fatalf("repeat=%d offset=%s: first cue should be the start", repeat, offset)
			}
		}
	}
}

func TestLayoutFallsBackToBugs(t *testing.T) {
	slot := &models.Slot{StartAt: slotStart, EndAt: slotEnd}
	logo := models.Asset{ID: "logo", DurationMS: 10_000}
	bugs := []models.AdCampaign{
		{ID: "b1", AssetID: "logo", Type: models.CampaignBug, RepeatMinutes: intPtr(20)},
		{ID: "b2", AssetID: "logo", Type: models.CampaignBug},
	}

	got := Layout(slot, bugs, map[string]models.Asset{"logo": logo})
	if len(got) != 2 {
		t.Fatalf("expected 2 default overlays, got %d", len(got))
	}
	if !got[0].StartAt.Equal(slotStart.Add(time.Minute)) || !got[1].StartAt.Equal(slotStart.Add(2*time.Minute)) {
		t.Fatalf("unexpected default starts %s %s", got[0].StartAt, got[1].StartAt)
	}
	if got[0].EndAt.Sub(got[0].StartAt) != 10*time.Second {
		t.Fatalf("bug overlay should last as long as its asset")
	}
	if len(got[0].Pts) != 3 || len(got[1].Pts) != 1 {
		t.Fatalf("unexpected cue counts %d and %d", len(got[0].Pts), len(got[1].Pts))
	}

	slot.Overlays = []models.Overlay{{StartAt: slotStart, EndAt: slotStart.Add(time.Minute), AssetID: "lower-third"}}
	got = Layout(slot, bugs, nil)
	if len(got) != 1 || got[0].AssetID != "lower-third" {
		t.Fatalf("slot overlays should win over bugs, got %+v", got)
	}
}

func TestEditOverlayList(t *testing.T) {
	a := models.Overlay{AssetID: "a"}
	b := models.Overlay{AssetID: "b"}
	list := Insert(Insert(nil, a), b)

	list, err := Replace(list, 0, models.Overlay{AssetID: "c"})
	if err != nil || list[0].AssetID != "c" {
		t.Fatalf("replace failed: %v %+v", err, list)
	}
	list, err = Remove(list, 1)
	if err != nil || len(list) != 1 {
		t.Fatalf("remove failed: %v %+v", err, list)
	}
	if _, err := Remove(list, 3); err != ErrIndexOutOfRange {
		t.Fatalf("expected out of range, got %v", err)
	}
}
