package core

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	Monday Weekdays = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday

	WeekdaysMonToFri = Monday | Tuesday | Wednesday | Thursday | Friday
	AllWeek          = WeekdaysMonToFri | Saturday | Sunday
)

// Weekdays is a 7-bit mask, bit 0 is Monday and bit 6 is Sunday.
type Weekdays uint8

func WeekdayBit(day time.Weekday) Weekdays {
	return 1 << ((int(day) + 6) % 7)
}

func (w Weekdays) Has(day time.Weekday) bool {
	return w&WeekdayBit(day) != 0
}

// TimeOfDay is a wall-clock time expressed in minutes after midnight.
type TimeOfDay int

func NewTimeOfDay(hour int, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}

	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

func (t TimeOfDay) Hour() int { return int(t) / 60 }

func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On places the time of day on the calendar date of day, in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string

	err := json.Unmarshal(data, &s)
	if err != nil {
		return err
	}

	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}

	*t = parsed

	return nil
}

type WorkingHoursPolicy struct {
	StartTime      TimeOfDay `json:"start_time"`
	EndTime        TimeOfDay `json:"end_time"`
	WorkDays       Weekdays  `json:"work_days" validate:"gt=0,lte=127"`
	MinSlotMinutes int       `json:"min_slot_minutes" validate:"gte=0"`
	MaxSlotMinutes int       `json:"max_slot_minutes" validate:"gte=0"`
	TimeZone       string    `json:"time_zone"`
}

// DefaultPolicy mirrors the settings a new agent starts with.
func DefaultPolicy() WorkingHoursPolicy {
	return WorkingHoursPolicy{
		StartTime:      NewTimeOfDay(9, 0),
		EndTime:        NewTimeOfDay(18, 0),
		WorkDays:       WeekdaysMonToFri,
		MinSlotMinutes: 30,
		MaxSlotMinutes: 120,
		TimeZone:       "Europe/Moscow",
	}
}

// Location resolves the policy zone, falling back to UTC when it is unset or unknown.
func (p WorkingHoursPolicy) Location() *time.Location {
	if p.TimeZone == "" {
		return time.UTC
	}

	loc, err := time.LoadLocation(p.TimeZone)
	if err != nil {
		return time.UTC
	}

	return loc
}

func (p WorkingHoursPolicy) IsWorkDay(day time.Time) bool {
	return p.WorkDays.Has(day.In(p.Location()).Weekday())
}

// Window returns the working hours of the calendar date of day.
func (p WorkingHoursPolicy) Window(day time.Time) (TimeRange, bool) {
	return p.windowIn(day, p.Location())
}

// windowIn is Window with the zone already resolved.
func (p WorkingHoursPolicy) windowIn(day time.Time, loc *time.Location) (TimeRange, bool) {
	r, err := NewTimeRange(p.StartTime.On(day, loc), p.EndTime.On(day, loc))
	if err != nil {
		return TimeRange{}, false
	}

	return r, true
}

// AllowsDuration reports whether a slot of the given length may be proposed.
// A zero MaxSlotMinutes means no upper bound.
func (p WorkingHoursPolicy) AllowsDuration(minutes int) bool {
	if minutes <= 0 {
		return false
	}

	return p.MaxSlotMinutes == 0 || minutes <= p.MaxSlotMinutes
}
