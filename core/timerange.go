package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeRange is a half-open interval [start, end). The zero value is empty.
type TimeRange struct {
	start time.Time
	end   time.Time
}

func NewTimeRange(start time.Time, end time.Time) (TimeRange, error) {
	if !start.Before(end) {
		return TimeRange{}, &ValidationError{
			Field:  "range",
			Reason: fmt.Sprintf("start %s must be before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339)),
		}
	}

	return TimeRange{start: start, end: end}, nil
}

func MustTimeRange(start time.Time, end time.Time) TimeRange {
	r, err := NewTimeRange(start, end)
	if err != nil {
		panic(err)
	}

	return r
}

func (r TimeRange) Start() time.Time { return r.start }

func (r TimeRange) End() time.Time { return r.end }

func (r TimeRange) Duration() time.Duration { return r.end.Sub(r.start) }

func (r TimeRange) IsEmpty() bool { return !r.start.Before(r.end) }

// Overlaps uses half-open semantics: touching intervals do not overlap.
func (r TimeRange) Overlaps(other TimeRange) bool {
	if r.IsEmpty() || other.IsEmpty() {
		return false
	}

	return r.start.Before(other.end) && other.start.Before(r.end)
}

func (r TimeRange) Contains(other TimeRange) bool {
	return !other.start.Before(r.start) && !other.end.After(r.end)
}

// Intersect returns the common part of both ranges, or false when they do not overlap.
func (r TimeRange) Intersect(other TimeRange) (TimeRange, bool) {
	if !r.Overlaps(other) {
		return TimeRange{}, false
	}

	start := r.start
	if other.start.After(start) {
		start = other.start
	}

	end := r.end
	if other.end.Before(end) {
		end = other.end
	}

	return TimeRange{start: start, end: end}, true
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.start.Format(time.RFC3339), r.end.Format(time.RFC3339))
}

type timeRangeJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r TimeRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(timeRangeJSON{Start: r.start, End: r.end})
}

func (r *TimeRange) UnmarshalJSON(data []byte) error {
	var raw timeRangeJSON

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	parsed, err := NewTimeRange(raw.Start, raw.End)
	if err != nil {
		return err
	}

	*r = parsed

	return nil
}
