package core

import "context"

type ConflictDetector struct {
	events EventReader
}

func NewConflictDetector(events EventReader) *ConflictDetector {
	return &ConflictDetector{events: events}
}

// HasConflict loads the owner's events around candidate and returns every
// non-cancelled one that overlaps it. excludeEventID skips the event being
// moved during an update. Storage errors are returned as they are.
func (d *ConflictDetector) HasConflict(ctx context.Context, ownerID string, candidate TimeRange, excludeEventID string) (bool, []Event, error) {
	if candidate.IsEmpty() {
		return false, nil, nil
	}

	events, err := d.events.ListEvents(ctx, ownerID, candidate)
	if err != nil {
		return false, nil, err
	}

	conflicting := Overlapping(events, candidate, excludeEventID)

	return len(conflicting) > 0, conflicting, nil
}

// Overlapping filters events down to the blocking ones that intersect candidate.
func Overlapping(events []Event, candidate TimeRange, excludeEventID string) []Event {
	var conflicting []Event

	for _, event := range events {
		if excludeEventID != "" && event.Id == excludeEventID {
			continue
		}

		if !event.Blocking() {
			continue
		}

		r, err := NewTimeRange(event.StartTime, event.EndTime)
		if err != nil {
			continue
		}

		if r.Overlaps(candidate) {
			conflicting = append(conflicting, event)
		}
	}

	return conflicting
}
