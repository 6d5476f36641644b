package core

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

const icsProductID = "-//agent-calendar//EN"

var icsStatus = map[EventStatus]string{
	StatusScheduled:   "CONFIRMED",
	StatusInProgress:  "CONFIRMED",
	StatusCompleted:   "CONFIRMED",
	StatusRescheduled: "TENTATIVE",
	StatusCancelled:   "CANCELLED",
}

// WriteICS encodes events as an iCalendar feed. Cancelled events are left out
// unless includeCancelled is set.
func WriteICS(w io.Writer, events []Event, includeCancelled bool, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, icsProductID)

	for _, e := range events {
		if !e.Blocking() && !includeCancelled {
			continue
		}

		cal.Children = append(cal.Children, icsEvent(e, stamp).Component)
	}

	// The encoder refuses calendars without components.
	if len(cal.Children) == 0 {
		_, err := io.WriteString(w, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:"+icsProductID+"\r\nEND:VCALENDAR\r\n")
		if err != nil {
			return fmt.Errorf("failed to encode calendar: %w", err)
		}

		return nil
	}

	err := ical.NewEncoder(w).Encode(cal)
	if err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}

	return nil
}

func icsEvent(e Event, stamp time.Time) *ical.Event {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, e.Id)
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, e.StartTime.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, e.EndTime.UTC())
	event.Props.SetText(ical.PropSummary, e.Title)

	if status, ok := icsStatus[e.Status]; ok {
		event.Props.SetText(ical.PropStatus, status)
	}

	if e.Kind != "" {
		event.Props.SetText(ical.PropCategories, strings.ToUpper(string(e.Kind)))
	}

	if e.Location != "" {
		event.Props.SetText(ical.PropLocation, e.Location)
	}

	description := e.Description
	if e.ClientName != "" || e.ClientPhone != "" {
		description = joinLines(description, strings.TrimSpace("Client: "+e.ClientName+" "+e.ClientPhone))
	}

	if description != "" {
		event.Props.SetText(ical.PropDescription, description)
	}

	if !e.UpdatedAt.IsZero() {
		event.Props.SetDateTime(ical.PropLastModified, e.UpdatedAt.UTC())
	}

	return event
}
