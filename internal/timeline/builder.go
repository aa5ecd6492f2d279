/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timeline turns a fill policy and asset pools into a contiguous,
// non-overlapping list of programs.
package timeline

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/adselect"
	"github.com/friendsincode/grimnir_playout/internal/interval"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/slotconfig"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

// MinUnit is the smallest remainder worth scheduling.
const MinUnit = time.Second

const minUnitMS = int64(MinUnit / time.Millisecond)

// Source is where content comes from: one designated asset played through
// its segments once, or a pool rotated until the budget runs out.
type Source struct {
	Designated *models.Asset
	// Optional sub-range of the designated asset, in ms. EndMS zero means
	// play to the asset's end.
	StartMS int64
	EndMS   int64

	Pool []models.Asset
}

// Request describes one build.
type Request struct {
	Config      slotconfig.EffectiveConfig
	WindowStart time.Time
	WindowEnd   time.Time
	// Budget caps the total emitted duration; zero uses Config.SlotLength.
	Budget time.Duration

	Content  Source
	Fillers  []models.Asset
	Selector *adselect.Selector
	Rand     *rand.Rand

	// GapFill pads the remaining budget with random fillers after content.
	GapFill bool
	// DynamicContent marks content programs as machine-chosen.
	DynamicContent bool

	LiveStreamID string
	SlotID       string
	AddedBy      string
}

// Result is the emitted timeline.
type Result struct {
	Programs      []models.Program
	End           time.Time
	Filled        time.Duration
	AdBreaks      int
	SkippedBreaks int
}

// Builder builds timelines. It holds no per-request state and is safe for
// concurrent use as long as each Request carries its own Rand and Selector.
type Builder struct {
	logger zerolog.Logger
}

// NewBuilder creates a timeline builder.
func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{logger: logger.With().Str("component", "timeline").Logger()}
}

type state struct {
	req     Request
	cursor  time.Time
	budget  int64 // ms left
	out     []models.Program
	breaks  int
	skipped int

	durationSinceAd int64
	programsSinceAd int
	warnedNoAds     bool
}

// Build runs the duration-budgeted fill from WindowStart.
func (b *Builder) Build(req Request) Result {
	if req.Rand == nil {
		req.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if req.Selector == nil {
		req.Selector = adselect.New(nil, nil, nil, nil, req.Rand)
	}
	budget := req.Budget
	if budget <= 0 {
		budget = req.Config.SlotLength
	}

	st := &state{req: req, cursor: req.WindowStart, budget: interval.Millis(budget)}

	if req.Content.Designated != nil {
		st.playContent(*req.Content.Designated, req.Content.StartMS, req.Content.EndMS)
	} else {
		st.rotatePool()
	}

	if req.GapFill {
		st.gapFill()
	}

	if st.warnedNoAds {
		b.logger.Debug().Str("slot_id", req.SlotID).Msg("ad breaks skipped: no ads available")
	}
	b.logger.Debug().
		Str("slot_id", req.SlotID).
		Int("programs", len(st.out)).
		Int("ad_breaks", st.breaks).
		Dur("filled", st.cursor.Sub(req.WindowStart)).
		Msg("timeline built")

	return Result{
		Programs:      st.out,
		End:           st.cursor,
		Filled:        st.cursor.Sub(req.WindowStart),
		AdBreaks:      st.breaks,
		SkippedBreaks: st.skipped,
	}
}

func (st *state) windowLeft() int64 {
	return interval.OffsetMillis(st.cursor, st.req.WindowEnd)
}

func (st *state) canContinue() bool {
	return st.budget >= minUnitMS && st.windowLeft() > 0
}

func (st *state) clip(d int64) int64 {
	if d > st.budget {
		d = st.budget
	}
	if left := st.windowLeft(); d > left {
		d = left
	}
	return d
}

// rotatePool walks the pool in order, reshuffling after each full pass. A
// pass that emits nothing ends the rotation.
func (st *state) rotatePool() {
	pool := append([]models.Asset(nil), st.req.Content.Pool...)
	if len(pool) == 0 {
		return
	}

	idx := 0
	emittedThisPass := false
	for st.canContinue() {
		if idx == len(pool) {
			if !emittedThisPass {
				return
			}
			st.req.Rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
			idx = 0
			emittedThisPass = false
		}
		if st.playContent(pool[idx], 0, 0) {
			emittedThisPass = true
		}
		idx++
	}
}

// playContent emits the asset's segments in order, bounded to
// [startMS, endMS) of the asset when endMS > 0. Reports whether anything
// was emitted.
func (st *state) playContent(a models.Asset, startMS, endMS int64) bool {
	emitted := false
	for i, seg := range a.PlayableSegments() {
		if !st.canContinue() {
			break
		}
		from, to := seg.StartMS, seg.EndMS
		if to <= startMS {
			continue
		}
		if from < startMS {
			from = startMS
		}
		if endMS > 0 {
			if from >= endMS {
				break
			}
			if to > endMS {
				to = endMS
			}
		}

		d := st.clip(to - from)
		if d <= 0 {
			continue
		}
		st.emit(a, models.ProgramContent, i, from, d, st.req.DynamicContent)
		telemetry.ProgramsEmittedTotal.WithLabelValues("content").Inc()
		emitted = true

		st.durationSinceAd += d
		st.programsSinceAd++
		st.maybeBreak()
	}
	return emitted
}

// maybeBreak inserts an ad break after a completed content segment when the
// configured threshold is reached. A reached threshold with no ads to play
// counts as one skipped break.
func (st *state) maybeBreak() {
	ac := st.req.Config.AdConfig
	if !ac.Ads || !st.canContinue() {
		return
	}

	switch ac.AdBasedOn {
	case models.AdBasedOnDuration:
		if st.durationSinceAd < interval.Millis(st.req.Config.AdAfterDuration()) {
			return
		}
		st.durationSinceAd = 0
	case models.AdBasedOnPrograms:
		if st.programsSinceAd < ac.AdAfter.Programs {
			return
		}
		st.programsSinceAd = 0
	default:
		return
	}

	sel := st.req.Selector
	if !sel.HasAds() {
		if !st.warnedNoAds {
			st.warnedNoAds = true
			telemetry.AdBreaksTotal.WithLabelValues("skipped_empty_pool").Inc()
		}
		st.skipped++
		return
	}

	st.breaks++
	telemetry.AdBreaksTotal.WithLabelValues("inserted").Inc()

	for k := 0; k < ac.NoAdsPerBreak && st.canContinue(); k++ {
		a, ok := sel.NextAd()
		if !ok {
			break
		}
		if st.emitWhole(a) {
			telemetry.ProgramsEmittedTotal.WithLabelValues("ad").Inc()
		}
	}

	if !ac.ContentPromos || !sel.HasPromos() {
		return
	}
	for k := 0; k < ac.PromosPerBreak && st.canContinue(); k++ {
		a, ok := sel.NextPromo()
		if !ok {
			break
		}
		if st.emitWhole(a) {
			telemetry.ProgramsEmittedTotal.WithLabelValues("promo").Inc()
		}
	}
}

// emitWhole plays an ad or promo as a single unit, truncated to what is left.
// A truncated unit shorter than MinUnit is dropped.
func (st *state) emitWhole(a models.Asset) bool {
	full := a.Length()
	d := st.clip(full)
	if d <= 0 || (d < full && d < minUnitMS) {
		return false
	}
	st.emit(a, models.ProgramAd, 0, 0, d, true)
	return true
}

// gapFill pads the remaining budget with random fillers, segment by segment.
// Fillers without a non-empty segment are ignored.
func (st *state) gapFill() {
	fillers := make([]models.Asset, 0, len(st.req.Fillers))
	for _, f := range st.req.Fillers {
		if hasPlayableSegment(f) {
			fillers = append(fillers, f)
		}
	}
	if len(fillers) == 0 {
		return
	}

	for st.canContinue() {
		f := fillers[st.req.Rand.Intn(len(fillers))]
		emitted := false
		for i, seg := range f.PlayableSegments() {
			if !st.canContinue() {
				break
			}
			d := st.clip(seg.Length())
			if d <= 0 {
				continue
			}
			st.emit(f, models.ProgramContent, i, seg.StartMS, d, true)
			telemetry.ProgramsEmittedTotal.WithLabelValues("filler").Inc()
			emitted = true
		}
		if !emitted {
			return
		}
	}
}

func hasPlayableSegment(a models.Asset) bool {
	for _, seg := range a.PlayableSegments() {
		if seg.Length() > 0 {
			return true
		}
	}
	return false
}

func (st *state) emit(a models.Asset, kind string, segment int, assetStartMS, d int64, dynamic bool) {
	start := st.cursor
	end := interval.At(start, d)
	st.out = append(st.out, models.Program{
		ID:            uuid.NewString(),
		LiveStreamID:  st.req.LiveStreamID,
		SlotID:        st.req.SlotID,
		StartAt:       start,
		EndAt:         end,
		AssetID:       a.ID,
		AssetStartMS:  assetStartMS,
		AssetEndMS:    assetStartMS + d,
		Type:          kind,
		SegmentNumber: segment,
		AddedBy:       st.req.AddedBy,
		IsDynamic:     dynamic,
	})
	st.cursor = end
	st.budget -= d
}
