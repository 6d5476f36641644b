package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

type IngestOutcome string

const (
	OutcomeCreated       IngestOutcome = "created"
	OutcomeLowConfidence IngestOutcome = "low_confidence"
)

// IngestRequest carries the extraction records produced for one message.
// StartTime and EndTime are used only when no record resolved a time.
type IngestRequest struct {
	OwnerId   string             `json:"owner_id"`
	Records   []ExtractionRecord `json:"records"`
	StartTime *time.Time         `json:"start_time,omitempty"`
	EndTime   *time.Time         `json:"end_time,omitempty"`
}

type IngestResult struct {
	Outcome    IngestOutcome       `json:"outcome"`
	Event      *Event              `json:"event,omitempty"`
	Extraction CanonicalExtraction `json:"extraction"`
}

var defaultDurations = map[EventKind]int{
	KindShowing: 90,
	KindViewing: 90,
	KindCall:    30,
}

var kindTitles = map[EventKind]string{
	KindMeeting: "Meeting",
	KindCall:    "Call",
	KindShowing: "Showing",
	KindViewing: "Viewing",
	KindDeal:    "Deal",
	KindTask:    "Task",
	KindOther:   "Event",
}

// IngestAndCreate merges the records and, when the merged confidence reaches
// the threshold, books the resulting event through CreateEvent. Below the
// threshold nothing is written and the merged record is returned for review.
func (s *schedulingService) IngestAndCreate(ctx context.Context, request IngestRequest) (*IngestResult, error) {
	if strings.TrimSpace(request.OwnerId) == "" {
		return nil, &ValidationError{Field: "owner_id", Reason: "owner is required"}
	}

	if len(request.Records) == 0 {
		return nil, &ValidationError{Field: "records", Reason: "at least one extraction record is required"}
	}

	for i := range request.Records {
		record := &request.Records[i]
		if record.Priority == 0 {
			record.Priority = SourcePriority(record.Source)
		}

		err := ValidateRecord(*record)
		if err != nil {
			return nil, err
		}
	}

	canonical := Merge(request.Records)

	logger := log.Ctx(ctx).With().Str("owner_id", request.OwnerId).Float64("confidence", canonical.Confidence).Logger()

	if canonical.Empty() || canonical.Confidence < s.options.LowConfidenceThreshold {
		logger.Info().Msg("extraction below confidence threshold, nothing booked")
		return &IngestResult{Outcome: OutcomeLowConfidence, Extraction: canonical}, nil
	}

	candidate, err := s.eventFromExtraction(request, canonical)
	if err != nil {
		return nil, err
	}

	saved, err := s.CreateEvent(ctx, candidate)
	if err != nil {
		return nil, err
	}

	logger.Info().Str("event_id", saved.Id).Msg("event booked from extraction")

	return &IngestResult{Outcome: OutcomeCreated, Event: saved, Extraction: canonical}, nil
}

func (s *schedulingService) eventFromExtraction(request IngestRequest, canonical CanonicalExtraction) (Event, error) {
	kind := canonical.EventType
	if kind == "" {
		kind = KindOther
		if canonical.Address != "" || canonical.PropertyType != "" {
			kind = KindShowing
		}
	}

	var start time.Time

	switch {
	case canonical.StartTime != nil:
		start = *canonical.StartTime
	case request.StartTime != nil:
		start = *request.StartTime
	default:
		return Event{}, &ValidationError{Field: "start_time", Reason: "no time could be resolved from the message"}
	}

	var end time.Time

	switch {
	case canonical.DurationMinutes != nil:
		end = start.Add(time.Duration(*canonical.DurationMinutes) * time.Minute)
	case request.EndTime != nil && canonical.StartTime == nil:
		end = *request.EndTime
	default:
		minutes, ok := defaultDurations[kind]
		if !ok {
			minutes = s.options.DefaultDurationMinutes
		}
		end = start.Add(time.Duration(minutes) * time.Minute)
	}

	location := canonical.Location
	if location == "" {
		location = canonical.Address
	}

	description := describeExtraction(canonical)

	phone := canonical.Contact
	if utf8.RuneCountInString(phone) > 50 {
		description = joinLines(description, "Contact: "+phone)
		phone = ""
	}

	confidence := canonical.Confidence

	return Event{
		OwnerId:     request.OwnerId,
		Title:       truncate(titleFor(kind, canonical), 200),
		Description: truncate(description, 2000),
		Kind:        kind,
		StartTime:   start,
		EndTime:     end,
		Location:    truncate(location, 500),
		ClientName:  truncate(canonical.ClientName, 255),
		ClientPhone: phone,
		Source:      eventSourceOf(canonical),
		Confidence:  &confidence,
	}, nil
}

func titleFor(kind EventKind, canonical CanonicalExtraction) string {
	if canonical.Title != "" {
		return canonical.Title
	}

	title := kindTitles[kind]
	if title == "" {
		title = kindTitles[KindOther]
	}

	switch {
	case canonical.ClientName != "":
		return title + " with " + canonical.ClientName
	case canonical.Address != "":
		return title + ": " + canonical.Address
	default:
		return title
	}
}

// describeExtraction keeps the property details alongside the free text.
func describeExtraction(canonical CanonicalExtraction) string {
	var details []string

	if canonical.PropertyType != "" {
		details = append(details, "Property: "+canonical.PropertyType)
	}
	if canonical.Price != nil {
		details = append(details, "Price: "+strconv.FormatFloat(*canonical.Price, 'f', -1, 64))
	}
	if canonical.Area != nil {
		details = append(details, "Area: "+strconv.FormatFloat(*canonical.Area, 'f', -1, 64)+" m²")
	}
	if canonical.Rooms != nil {
		details = append(details, fmt.Sprintf("Rooms: %d", *canonical.Rooms))
	}
	if canonical.Floor != nil {
		details = append(details, fmt.Sprintf("Floor: %d", *canonical.Floor))
	}
	if len(canonical.Features) > 0 {
		details = append(details, "Features: "+strings.Join(canonical.Features, ", "))
	}

	return joinLines(canonical.Description, details...)
}

// eventSourceOf maps the record that won the title, or failing that the
// start time, to the event's source.
func eventSourceOf(canonical CanonicalExtraction) EventSource {
	winner, ok := canonical.Sources[FieldTitle]
	if !ok {
		winner, ok = canonical.Sources[FieldStartTime]
	}

	if !ok {
		if len(canonical.Contributors) == 0 {
			return SourceAPI
		}

		winner = canonical.Contributors[0]
	}

	switch winner {
	case ExtractionOCR:
		return SourceImage
	case ExtractionVoice:
		return SourceVoice
	default:
		return SourceText
	}
}

func joinLines(head string, lines ...string) string {
	parts := make([]string, 0, len(lines)+1)
	if head != "" {
		parts = append(parts, head)
	}

	for _, line := range lines {
		if line != "" {
			parts = append(parts, line)
		}
	}

	return strings.Join(parts, "\n")
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	return string([]rune(s)[:limit])
}
