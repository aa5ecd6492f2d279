/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package interval holds half-open time window helpers shared by the slot
// and program schedulers.
package interval

import "time"

// Window is a half-open range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// New builds a window from two instants.
func New(start, end time.Time) Window {
	return Window{Start: start, End: end}
}

// Valid reports whether Start is strictly before End.
func (w Window) Valid() bool {
	return w.Start.Before(w.End)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps reports whether the two half-open windows share any instant.
// Windows that only touch at an edge do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Contains reports whether o lies entirely inside w.
func (w Window) Contains(o Window) bool {
	return !o.Start.Before(w.Start) && !o.End.After(w.End)
}

// ContainsInstant reports whether t falls inside [Start, End).
func (w Window) ContainsInstant(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Intersection returns the shared part of both windows, or false when they
// do not overlap.
func (w Window) Intersection(o Window) (Window, bool) {
	if !w.Overlaps(o) {
		return Window{}, false
	}
	return Window{Start: MaxTime(w.Start, o.Start), End: MinTime(w.End, o.End)}, true
}

// MaxTime returns the later of a and b.
func MaxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// MinTime returns the earlier of a and b.
func MinTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// Millis converts a duration to whole milliseconds.
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}

// FromMillis converts milliseconds to a duration.
func FromMillis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// OffsetMillis returns the millisecond offset of t from origin.
func OffsetMillis(origin, t time.Time) int64 {
	return t.Sub(origin).Milliseconds()
}

// At returns origin advanced by ms milliseconds.
func At(origin time.Time, ms int64) time.Time {
	return origin.Add(FromMillis(ms))
}

// Seconds converts milliseconds to fractional seconds for wire payloads.
func Seconds(ms int64) float64 {
	return float64(ms) / 1000
}
