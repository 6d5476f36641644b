package core

import "time"

type EventKind string

const (
	KindMeeting EventKind = "meeting"
	KindCall    EventKind = "call"
	KindShowing EventKind = "showing"
	KindViewing EventKind = "viewing"
	KindDeal    EventKind = "deal"
	KindTask    EventKind = "task"
	KindOther   EventKind = "other"
)

type EventStatus string

const (
	StatusScheduled   EventStatus = "scheduled"
	StatusInProgress  EventStatus = "in_progress"
	StatusCompleted   EventStatus = "completed"
	StatusCancelled   EventStatus = "cancelled"
	StatusRescheduled EventStatus = "rescheduled"
)

type EventSource string

const (
	SourceVoice  EventSource = "voice"
	SourceText   EventSource = "text"
	SourceImage  EventSource = "image"
	SourceManual EventSource = "manual"
	SourceAPI    EventSource = "api"
)

type Event struct {
	Id          string      `json:"id,omitempty"`
	OwnerId     string      `json:"owner_id,omitempty"`
	Title       string      `json:"title,omitempty" validate:"required,max=200"`
	Description string      `json:"description,omitempty" validate:"max=2000"`
	Kind        EventKind   `json:"kind,omitempty" validate:"omitempty,oneof=meeting call showing viewing deal task other"`
	StartTime   time.Time   `json:"start_time"`
	EndTime     time.Time   `json:"end_time"`
	Location    string      `json:"location,omitempty" validate:"max=500"`
	ClientName  string      `json:"client_name,omitempty" validate:"max=255"`
	ClientPhone string      `json:"client_phone,omitempty" validate:"max=50"`
	Status      EventStatus `json:"status,omitempty" validate:"omitempty,oneof=scheduled in_progress completed cancelled rescheduled"`
	Source      EventSource `json:"source,omitempty" validate:"omitempty,oneof=voice text image manual api"`
	Confidence  *float64    `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	CreatedAt   time.Time   `json:"created_at,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at,omitempty"`
}

// Range returns the event interval. Callers must have validated the event
// first; an inverted interval yields the zero TimeRange.
func (e Event) Range() TimeRange {
	r, _ := NewTimeRange(e.StartTime, e.EndTime)
	return r
}

// Blocking reports whether the event occupies its slot in the calendar.
func (e Event) Blocking() bool {
	return e.Status != StatusCancelled
}

// EventPatch carries the mutable fields of an event. Nil means unchanged.
type EventPatch struct {
	Title       *string      `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string      `json:"description,omitempty" validate:"omitempty,max=2000"`
	Kind        *EventKind   `json:"kind,omitempty" validate:"omitempty,oneof=meeting call showing viewing deal task other"`
	StartTime   *time.Time   `json:"start_time,omitempty"`
	EndTime     *time.Time   `json:"end_time,omitempty"`
	Location    *string      `json:"location,omitempty" validate:"omitempty,max=500"`
	ClientName  *string      `json:"client_name,omitempty" validate:"omitempty,max=255"`
	ClientPhone *string      `json:"client_phone,omitempty" validate:"omitempty,max=50"`
	Status      *EventStatus `json:"status,omitempty" validate:"omitempty,oneof=scheduled in_progress completed cancelled rescheduled"`
}

// ChangesTime reports whether applying the patch may move the event.
func (p EventPatch) ChangesTime() bool {
	return p.StartTime != nil || p.EndTime != nil
}

// reactivates reports whether a cancelled event comes back into the calendar.
func (p EventPatch) reactivates(current Event) bool {
	return current.Status == StatusCancelled && p.Status != nil && *p.Status != StatusCancelled
}

func (p EventPatch) Apply(e Event) Event {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Kind != nil {
		e.Kind = *p.Kind
	}
	if p.StartTime != nil {
		e.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		e.EndTime = *p.EndTime
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
	if p.ClientName != nil {
		e.ClientName = *p.ClientName
	}
	if p.ClientPhone != nil {
		e.ClientPhone = *p.ClientPhone
	}
	if p.Status != nil {
		e.Status = *p.Status
	}

	return e
}

type RankedSlot struct {
	Range      TimeRange `json:"range"`
	Confidence float64   `json:"confidence"`
}
