/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package timeline

import (
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/adselect"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/slotconfig"
)

var slotStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func segmented(id, category string, segSeconds ...int64) models.Asset {
	a := models.Asset{ID: id, Name: id, Category: category, EncodeStatus: models.EncodeStatusComplete}
	var at int64
	for _, s := range segSeconds {
		a.Segments = append(a.Segments, models.Segment{StartMS: at, EndMS: at + s*1000})
		at += s * 1000
	}
	a.DurationMS = at
	return a
}

func hourConfig() slotconfig.EffectiveConfig {
	return slotconfig.EffectiveConfig{SlotLength: time.Hour}
}

func build(t *testing.T, req Request) Result {
	t.Helper()
	if req.Rand == nil {
		req.Rand = rand.New(rand.NewSource(7))
	}
	if req.WindowStart.IsZero() {
		req.WindowStart = slotStart
	}
	if req.WindowEnd.IsZero() {
		req.WindowEnd = slotStart.Add(time.Hour)
	}
	return NewBuilder(zerolog.Nop()).Build(req)
}

func assertContiguous(t *testing.T, programs []models.Program, from time.Time) {
	t.Helper()
	cursor := from
	for i, p := range programs {
		if !p.StartAt.Equal(cursor) {
			t.Fatalf("program %d starts at %s, want %s", i, p.StartAt, cursor)
		}
		if !p.EndAt.After(p.StartAt) {
			t.Fatalf("program %d has empty window", i)
		}
		cursor = p.EndAt
	}
}

func assertSegmentFidelity(t *testing.T, programs []models.Program, assets map[string]models.Asset) {
	t.Helper()
	for i, p := range programs {
		if p.Type != models.ProgramContent {
			continue
		}
		a := assets[p.AssetID]
		segs := a.PlayableSegments()
		if p.SegmentNumber < 0 || p.SegmentNumber >= len(segs) {
			t.Fatalf("program %d: segment %d out of range", i, p.SegmentNumber)
		}
		seg := segs[p.SegmentNumber]
		if p.AssetStartMS < seg.StartMS || p.AssetEndMS > seg.EndMS {
			t.Fatalf("program %d: offsets [%d,%d) escape segment [%d,%d)",
				i, p.AssetStartMS, p.AssetEndMS, seg.StartMS, seg.EndMS)
		}
		if got := p.EndAt.Sub(p.StartAt).Milliseconds(); got != p.AssetEndMS-p.AssetStartMS {
			t.Fatalf("program %d: wall span %dms differs from asset span %dms", i, got, p.AssetEndMS-p.AssetStartMS)
		}
	}
}

func TestFillWithoutAds(t *testing.T) {
	show := segmented("show", "scene", 1800, 1800)
	res := build(t, Request{
		Config:         hourConfig(),
		Content:        Source{Pool: []models.Asset{show}},
		DynamicContent: true,
	})

	if len(res.Programs) != 2 {
		t.Fatalf("expected 2 programs, got %d", len(res.Programs))
	}
	for i, p := range res.Programs {
		if p.Type != models.ProgramContent || p.SegmentNumber != i || p.AssetID != "show" {
			t.Fatalf("program %d: unexpected %+v", i, p)
		}
		if !p.IsDynamic {
			t.Fatalf("program %d should be dynamic", i)
		}
	}
	if !res.Programs[1].StartAt.Equal(slotStart.Add(30 * time.Minute)) {
		t.Fatalf("second segment starts at %s", res.Programs[1].StartAt)
	}
	if !res.End.Equal(slotStart.Add(time.Hour)) {
		t.Fatalf("end = %s, want 11:00", res.End)
	}
	assertContiguous(t, res.Programs, slotStart)
}

func TestFillWithDurationAdBreak(t *testing.T) {
	show := segmented("show", "scene", 1800, 1800)
	ad := segmented("ad", "ad", 60)
	cfg := hourConfig()
	cfg.AdConfig = models.AdConfig{
		Ads:           true,
		AdBasedOn:     models.AdBasedOnDuration,
		AdAfter:       models.AdAfter{Duration: 1800},
		NoAdsPerBreak: 1,
	}
	rng := rand.New(rand.NewSource(1))

	res := build(t, Request{
		Config:   cfg,
		Content:  Source{Pool: []models.Asset{show}},
		Selector: adselect.New(nil, []models.Asset{ad}, nil, nil, rng),
		Rand:     rng,
	})

	if len(res.Programs) != 3 {
		t.Fatalf("expected 3 programs, got %d", len(res.Programs))
	}
	first, brk, second := res.Programs[0], res.Programs[1], res.Programs[2]
	if first.Type != models.ProgramContent || !first.EndAt.Equal(slotStart.Add(30*time.Minute)) {
		t.Fatalf("unexpected first program %+v", first)
	}
	if brk.Type != models.ProgramAd || brk.AssetID != "ad" || brk.Duration() != time.Minute || !brk.IsDynamic {
		t.Fatalf("unexpected ad program %+v", brk)
	}
	if second.SegmentNumber != 1 || !second.StartAt.Equal(slotStart.Add(31*time.Minute)) {
		t.Fatalf("unexpected second program %+v", second)
	}
	if second.Duration() != 29*time.Minute {
		t.Fatalf("second segment should be trimmed to 29m, got %s", second.Duration())
	}
	if res.AdBreaks != 1 {
		t.Fatalf("expected 1 ad break, got %d", res.AdBreaks)
	}
	assertContiguous(t, res.Programs, slotStart)
}

func TestProgramCountAdBreaksWithPromos(t *testing.T) {
	clip := segmented("clip", "scene", 300)
	ad := segmented("ad", "ad", 30)
	promo := segmented("promo", "social", 15)
	cfg := hourConfig()
	cfg.AdConfig = models.AdConfig{
		Ads:            true,
		AdBasedOn:      models.AdBasedOnPrograms,
		AdAfter:        models.AdAfter{Programs: 2},
		NoAdsPerBreak:  2,
		ContentPromos:  true,
		PromosPerBreak: 1,
	}
	rng := rand.New(rand.NewSource(3))

	res := build(t, Request{
		Config:   cfg,
		Content:  Source{Pool: []models.Asset{clip}},
		Selector: adselect.New(nil, []models.Asset{ad}, []models.Asset{promo}, nil, rng),
		Rand:     rng,
	})
	assertContiguous(t, res.Programs, slotStart)

	contentRun := 0
	for i := 0; i < len(res.Programs); i++ {
		p := res.Programs[i]
		if p.Type == models.ProgramContent {
			contentRun++
			continue
		}
		if contentRun != 2 {
			t.Fatalf("break at %d after %d content programs", i, contentRun)
		}
		if p.AssetID != "ad" || res.Programs[i+1].AssetID != "ad" || res.Programs[i+2].AssetID != "promo" {
			t.Fatalf("break at %d has unexpected layout", i)
		}
		i += 2
		contentRun = 0
	}
}

func TestDurationBreakSpacing(t *testing.T) {
	clip := segmented("clip", "scene", 420, 420)
	ad := segmented("ad", "ad", 45)
	cfg := slotconfig.EffectiveConfig{SlotLength: 3 * time.Hour}
	cfg.AdConfig = models.AdConfig{
		Ads:           true,
		AdBasedOn:     models.AdBasedOnDuration,
		AdAfter:       models.AdAfter{Duration: 900},
		NoAdsPerBreak: 1,
	}
	rng := rand.New(rand.NewSource(11))

	res := build(t, Request{
		Config:    cfg,
		WindowEnd: slotStart.Add(3 * time.Hour),
		Content:   Source{Pool: []models.Asset{clip}},
		Selector:  adselect.New(nil, []models.Asset{ad}, nil, nil, rng),
		Rand:      rng,
	})

	var since time.Duration
	for i, p := range res.Programs {
		if p.Type == models.ProgramAd {
			if since < 15*time.Minute {
				t.Fatalf("break at %d after only %s of content", i, since)
			}
			since = 0
			continue
		}
		since += p.Duration()
	}
	if res.AdBreaks == 0 {
		t.Fatal("expected at least one break")
	}
}

func TestNoAdsWhenPoolEmpty(t *testing.T) {
	clip := segmented("clip", "scene", 600)
	cfg := hourConfig()
	cfg.AdConfig = models.AdConfig{Ads: true, AdBasedOn: models.AdBasedOnPrograms, AdAfter: models.AdAfter{Programs: 1}, NoAdsPerBreak: 1}

	res := build(t, Request{Config: cfg, Content: Source{Pool: []models.Asset{clip}}})
	for _, p := range res.Programs {
		if p.Type == models.ProgramAd {
			t.Fatal("no ad should be emitted without an ad pool")
		}
	}
	if res.AdBreaks != 0 || res.SkippedBreaks == 0 {
		t.Fatalf("expected skipped breaks only, got inserted=%d skipped=%d", res.AdBreaks, res.SkippedBreaks)
	}
	if !res.End.Equal(slotStart.Add(time.Hour)) {
		t.Fatalf("expected full coverage, ended at %s", res.End)
	}
}

func TestGapFillCoversBudget(t *testing.T) {
	short := segmented("short", "scene", 1000)
	song := segmented("song", "music", 170, 40)
	assets := map[string]models.Asset{"short": short, "song": song}

	res := build(t, Request{
		Config:  hourConfig(),
		Content: Source{Designated: &short},
		Fillers: []models.Asset{song},
		GapFill: true,
	})

	assertContiguous(t, res.Programs, slotStart)
	assertSegmentFidelity(t, res.Programs, assets)
	if got := slotStart.Add(time.Hour).Sub(res.End); got >= time.Second {
		t.Fatalf("left %s uncovered", got)
	}
	if res.Programs[0].AssetID != "short" || res.Programs[0].IsDynamic {
		t.Fatalf("designated content should lead and be static: %+v", res.Programs[0])
	}
}

func TestDesignatedAssetBounds(t *testing.T) {
	show := segmented("show", "scene", 600, 600, 600)
	res := build(t, Request{
		Config:  hourConfig(),
		Content: Source{Designated: &show, StartMS: 300_000, EndMS: 900_000},
	})

	if len(res.Programs) != 2 {
		t.Fatalf("expected 2 programs, got %d", len(res.Programs))
	}
	if p := res.Programs[0]; p.SegmentNumber != 0 || p.AssetStartMS != 300_000 || p.AssetEndMS != 600_000 {
		t.Fatalf("unexpected first program %+v", p)
	}
	if p := res.Programs[1]; p.SegmentNumber != 1 || p.AssetStartMS != 600_000 || p.AssetEndMS != 900_000 {
		t.Fatalf("unexpected second program %+v", p)
	}
	if res.Filled != 10*time.Minute {
		t.Fatalf("filled %s, want 10m", res.Filled)
	}
}

func TestWindowEndClipsBudget(t *testing.T) {
	show := segmented("show", "scene", 3600)
	res := build(t, Request{
		Config:    hourConfig(),
		WindowEnd: slotStart.Add(20 * time.Minute),
		Content:   Source{Pool: []models.Asset{show}},
	})
	if len(res.Programs) != 1 || res.Programs[0].Duration() != 20*time.Minute {
		t.Fatalf("expected one 20m program, got %+v", res.Programs)
	}
}

func TestRandomizedTimelinesStayConsistent(t *testing.T) {
	pool := []models.Asset{
		segmented("a", "scene", 95, 410, 33),
		segmented("b", "scene", 1200),
		segmented("c", "scene", 61, 61, 61, 61),
	}
	ads := []models.Asset{segmented("ad1", "ad", 30), segmented("ad2", "ad", 75)}
	fillers := []models.Asset{segmented("f1", "music", 181), segmented("f2", "music", 45, 12)}

	assets := map[string]models.Asset{}
	for _, set := range [][]models.Asset{pool, ads, fillers} {
		for _, a := range set {
			assets[a.ID] = a
		}
	}

	for seed := int64(0); seed < 40; seed++ {
		rng := rand.New(rand.NewSource(seed))
		cfg := slotconfig.EffectiveConfig{SlotLength: time.Duration(30+rng.Intn(150)) * time.Minute}
		cfg.AdConfig = models.AdConfig{
			Ads:           seed%3 != 0,
			AdBasedOn:     models.AdBasedOnDuration,
			AdAfter:       models.AdAfter{Duration: 300 + rng.Intn(900)},
			NoAdsPerBreak: 1 + rng.Intn(3),
		}
		end := slotStart.Add(3 * time.Hour)

		res := build(t, Request{
			Config:    cfg,
			WindowEnd: end,
			Content:   Source{Pool: pool},
			Fillers:   fillers,
			GapFill:   true,
			Selector:  adselect.New(nil, ads, nil, nil, rng),
			Rand:      rng,
		})

		assertContiguous(t, res.Programs, slotStart)
		assertSegmentFidelity(t, res.Programs, assets)
		if res.End.After(end) {
			t.Fatalf("seed %d: timeline overruns window", seed)
		}
		if res.Filled > cfg.SlotLength {
			t.Fatalf("seed %d: filled %s over budget %s", seed, res.Filled, cfg.SlotLength)
		}
		if cfg.SlotLength-res.Filled >= time.Second {
			t.Fatalf("seed %d: %s left unfilled", seed, cfg.SlotLength-res.Filled)
		}
	}
}

func TestGapFillIgnoresEmptySegmentFillers(t *testing.T) {
	broken := models.Asset{ID: "broken", Category: "music", EncodeStatus: models.EncodeStatusComplete,
		DurationMS: 60_000, Segments: []models.Segment{{StartMS: 0, EndMS: 0}}}

	done := make(chan Result, 1)
	go func() {
		done <- build(t, Request{Config: hourConfig(), Fillers: []models.Asset{broken}, GapFill: true})
	}()

	select {
	case res := <-done:
		if len(res.Programs) != 0 {
			t.Fatalf("expected no programs from an empty filler, got %d", len(res.Programs))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Build did not return with only empty-segment fillers")
	}

	song := segmented("song", "music", 200)
	res := build(t, Request{Config: hourConfig(), Fillers: []models.Asset{broken, song}, GapFill: true})
	for _, p := range res.Programs {
		if p.AssetID != "song" {
			t.Fatalf("unexpected filler %s", p.AssetID)
		}
	}
	if got := slotStart.Add(time.Hour).Sub(res.End); got >= time.Second {
		t.Fatalf("left %s uncovered", got)
	}
}

func TestTruncatedAdBelowMinUnitIsDropped(t *testing.T) {
	clip := segmented("clip", "scene", 1799)
	clip.Segments[0].EndMS = 1_799_500
	clip.DurationMS = 1_799_500
	ad := segmented("ad", "ad", 30)
	cfg := hourConfig()
	cfg.AdConfig = models.AdConfig{Ads: true, AdBasedOn: models.AdBasedOnPrograms, AdAfter: models.AdAfter{Programs: 1}, NoAdsPerBreak: 1}
	rng := rand.New(rand.NewSource(2))

	res := build(t, Request{
		Config:    cfg,
		WindowEnd: slotStart.Add(30 * time.Minute),
		Content:   Source{Designated: &clip},
		Selector:  adselect.New(nil, []models.Asset{ad}, nil, nil, rng),
		Rand:      rng,
	})

	for _, p := range res.Programs {
		if p.Type == models.ProgramAd {
			t.Fatalf("ad clipped to %s should not be emitted", p.Duration())
		}
	}
}

func TestSkippedBreaksCountReachedTriggers(t *testing.T) {
	clip := segmented("clip", "scene", 300)
	cfg := hourConfig()
	cfg.AdConfig = models.AdConfig{Ads: true, AdBasedOn: models.AdBasedOnPrograms, AdAfter: models.AdAfter{Programs: 3}, NoAdsPerBreak: 1}

	res := build(t, Request{Config: cfg, Content: Source{Pool: []models.Asset{clip}}})

	// Triggers after the 3rd, 6th and 9th clip; the 12th ends the slot.
	if len(res.Programs) != 12 {
		t.Fatalf("expected 12 programs, got %d", len(res.Programs))
	}
	if res.SkippedBreaks != 3 {
		t.Fatalf("expected 3 skipped breaks, got %d", res.SkippedBreaks)
	}
}
