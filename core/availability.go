package core

import (
	"context"
	"slices"
	"time"
)

type AvailabilityConfig struct {
	BaseConfidence float64
	// Decay is subtracted once per existing event within Proximity of the slot.
	Decay     float64
	Floor     float64
	Proximity time.Duration
}

func DefaultAvailabilityConfig() AvailabilityConfig {
	return AvailabilityConfig{
		BaseConfidence: 0.9,
		Decay:          0.05,
		Floor:          0.3,
		Proximity:      2 * time.Hour,
	}
}

type AvailabilityFinder struct {
	events EventReader
	config AvailabilityConfig
}

func NewAvailabilityFinder(events EventReader, config AvailabilityConfig) *AvailabilityFinder {
	return &AvailabilityFinder{events: events, config: config}
}

// Suggest proposes at most maxResults free slots of durationMinutes inside
// horizon, one per free gap of each working day, starting at the gap start.
// Slots are ranked by confidence, then by start. A maxResults of zero or less
// returns every slot found. "Nothing available" is an empty list, not an error.
func (f *AvailabilityFinder) Suggest(ctx context.Context, ownerID string, durationMinutes int, horizon TimeRange, policy WorkingHoursPolicy, maxResults int) ([]RankedSlot, error) {
	if horizon.IsEmpty() || !policy.AllowsDuration(durationMinutes) {
		return []RankedSlot{}, nil
	}

	windows := f.workWindows(horizon, policy)
	if len(windows) == 0 {
		return []RankedSlot{}, nil
	}

	// One read covers every window plus the proximity margin used for ranking.
	lookup, err := NewTimeRange(windows[0].Start().Add(-f.config.Proximity), windows[len(windows)-1].End().Add(f.config.Proximity))
	if err != nil {
		return []RankedSlot{}, nil
	}

	events, err := f.events.ListEvents(ctx, ownerID, lookup)
	if err != nil {
		return nil, err
	}

	busy := busyRanges(events)
	duration := time.Duration(durationMinutes) * time.Minute

	slots := []RankedSlot{}

	for _, window := range windows {
		for _, gap := range freeGaps(window, busy) {
			if gap.Duration() < duration {
				continue
			}

			slot := MustTimeRange(gap.Start(), gap.Start().Add(duration))
			slots = append(slots, RankedSlot{Range: slot, Confidence: f.confidence(slot, busy)})
		}
	}

	slices.SortStableFunc(slots, func(a, b RankedSlot) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		default:
			return a.Range.Start().Compare(b.Range.Start())
		}
	})

	if maxResults > 0 && len(slots) > maxResults {
		slots = slots[:maxResults]
	}

	return slots, nil
}

// workWindows returns the working hours of every work day in horizon, clipped to it.
func (f *AvailabilityFinder) workWindows(horizon TimeRange, policy WorkingHoursPolicy) []TimeRange {
	loc := policy.Location()
	first := horizon.Start().In(loc)
	y, m, d := first.Date()

	var windows []TimeRange

	for i := 0; ; i++ {
		day := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		if !day.Before(horizon.End()) {
			break
		}

		if !policy.WorkDays.Has(day.Weekday()) {
			continue
		}

		window, ok := policy.windowIn(day, loc)
		if !ok {
			continue
		}

		clipped, ok := window.Intersect(horizon)
		if !ok {
			continue
		}

		windows = append(windows, clipped)
	}

	return windows
}

// confidence starts at the base value and loses Decay for each busy interval
// within Proximity before or after the slot, never dropping below Floor.
func (f *AvailabilityFinder) confidence(slot TimeRange, busy []TimeRange) float64 {
	neighbourhood := TimeRange{start: slot.Start().Add(-f.config.Proximity), end: slot.End().Add(f.config.Proximity)}

	nearby := 0
	for _, b := range busy {
		if b.Overlaps(neighbourhood) {
			nearby++
		}
	}

	score := f.config.BaseConfidence - f.config.Decay*float64(nearby)
	if score < f.config.Floor {
		return f.config.Floor
	}

	return score
}

// busyRanges keeps the blocking, well-formed events sorted by start.
func busyRanges(events []Event) []TimeRange {
	busy := make([]TimeRange, 0, len(events))

	for _, event := range events {
		if !event.Blocking() {
			continue
		}

		r, err := NewTimeRange(event.StartTime, event.EndTime)
		if err != nil {
			continue
		}

		busy = append(busy, r)
	}

	slices.SortFunc(busy, func(a, b TimeRange) int {
		return a.Start().Compare(b.Start())
	})

	return busy
}

// freeGaps walks the sorted busy intervals and returns the free parts of window.
func freeGaps(window TimeRange, busy []TimeRange) []TimeRange {
	var gaps []TimeRange

	cursor := window.Start()

	for _, b := range busy {
		if !b.Overlaps(window) {
			continue
		}

		if b.Start().After(cursor) {
			gaps = append(gaps, TimeRange{start: cursor, end: b.Start()})
		}

		if b.End().After(cursor) {
			cursor = b.End()
		}
	}

	if cursor.Before(window.End()) {
		gaps = append(gaps, TimeRange{start: cursor, end: window.End()})
	}

	return gaps
}
