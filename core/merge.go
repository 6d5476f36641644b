package core

import (
	"math"
	"slices"
	"strings"
	"time"
)

type ExtractionSource string

const (
	ExtractionGPT       ExtractionSource = "gpt"
	ExtractionOCR       ExtractionSource = "ocr"
	ExtractionTextRegex ExtractionSource = "text_regex"
	ExtractionVoice     ExtractionSource = "voice"
)

// sourcePriority ranks modalities when their values disagree: GPT > OCR > text > voice.
var sourcePriority = map[ExtractionSource]int{
	ExtractionGPT:       4,
	ExtractionOCR:       3,
	ExtractionTextRegex: 2,
	ExtractionVoice:     1,
}

func SourcePriority(source ExtractionSource) int {
	return sourcePriority[source]
}

// MaxDurationMinutes bounds an extracted event length to one day.
const MaxDurationMinutes = 24 * 60

type FieldName string

const (
	FieldPropertyType    FieldName = "property_type"
	FieldPrice           FieldName = "price"
	FieldArea            FieldName = "area"
	FieldRooms           FieldName = "rooms"
	FieldAddress         FieldName = "address"
	FieldFloor           FieldName = "floor"
	FieldContact         FieldName = "contact"
	FieldDescription     FieldName = "description"
	FieldFeatures        FieldName = "features"
	FieldEventType       FieldName = "event_type"
	FieldTitle           FieldName = "title"
	FieldClientName      FieldName = "client_name"
	FieldLocation        FieldName = "location"
	FieldStartTime       FieldName = "start_time"
	FieldDurationMinutes FieldName = "duration_minutes"
)

// ExtractedFields is the closed set of values an extraction producer may fill.
type ExtractedFields struct {
	PropertyType    string     `json:"property_type,omitempty" validate:"max=100"`
	Price           *float64   `json:"price,omitempty" validate:"omitempty,gte=0"`
	Area            *float64   `json:"area,omitempty" validate:"omitempty,gte=0"`
	Rooms           *int       `json:"rooms,omitempty" validate:"omitempty,gte=0"`
	Address         string     `json:"address,omitempty" validate:"max=500"`
	Floor           *int       `json:"floor,omitempty"`
	Contact         string     `json:"contact,omitempty" validate:"max=255"`
	Description     string     `json:"description,omitempty" validate:"max=2000"`
	Features        []string   `json:"features,omitempty"`
	EventType       EventKind  `json:"event_type,omitempty" validate:"omitempty,oneof=meeting call showing viewing deal task other"`
	Title           string     `json:"title,omitempty" validate:"max=200"`
	ClientName      string     `json:"client_name,omitempty" validate:"max=255"`
	Location        string     `json:"location,omitempty" validate:"max=500"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty" validate:"omitempty,gte=0,lte=1440"`
}

type ExtractionRecord struct {
	Source     ExtractionSource `json:"source" validate:"required"`
	Priority   int              `json:"priority"`
	Fields     ExtractedFields  `json:"fields"`
	Confidence float64          `json:"confidence" validate:"gte=0,lte=1"`
}

// NewExtractionRecord assigns the fixed priority of the source.
func NewExtractionRecord(source ExtractionSource, fields ExtractedFields, confidence float64) ExtractionRecord {
	return ExtractionRecord{
		Source:     source,
		Priority:   SourcePriority(source),
		Fields:     fields,
		Confidence: confidence,
	}
}

type CanonicalExtraction struct {
	ExtractedFields
	// Sources names the record that won each populated field. Features are
	// attributed to the highest-priority record that listed any.
	Sources      map[FieldName]ExtractionSource `json:"sources"`
	Contributors []ExtractionSource             `json:"contributors"`
	Confidence   float64                        `json:"confidence"`
}

func (c CanonicalExtraction) Empty() bool {
	return len(c.Sources) == 0
}

type mergeField struct {
	name  FieldName
	empty func(f *ExtractedFields) bool
	take  func(dst *ExtractedFields, src *ExtractedFields)
}

var mergeFields = []mergeField{
	{
		name:  FieldPropertyType,
		empty: func(f *ExtractedFields) bool { return blank(f.PropertyType) },
		take:  func(dst, src *ExtractedFields) { dst.PropertyType = strings.TrimSpace(src.PropertyType) },
	},
	{
		name:  FieldPrice,
		empty: func(f *ExtractedFields) bool { return f.Price == nil || *f.Price <= 0 },
		take:  func(dst, src *ExtractedFields) { dst.Price = clonePtr(src.Price) },
	},
	{
		name:  FieldArea,
		empty: func(f *ExtractedFields) bool { return f.Area == nil || *f.Area <= 0 },
		take:  func(dst, src *ExtractedFields) { dst.Area = clonePtr(src.Area) },
	},
	{
		// zero rooms is a studio, not a missing value
		name:  FieldRooms,
		empty: func(f *ExtractedFields) bool { return f.Rooms == nil || *f.Rooms < 0 },
		take:  func(dst, src *ExtractedFields) { dst.Rooms = clonePtr(src.Rooms) },
	},
	{
		name:  FieldAddress,
		empty: func(f *ExtractedFields) bool { return blank(f.Address) },
		take:  func(dst, src *ExtractedFields) { dst.Address = strings.TrimSpace(src.Address) },
	},
	{
		name:  FieldFloor,
		empty: func(f *ExtractedFields) bool { return f.Floor == nil || *f.Floor == 0 },
		take:  func(dst, src *ExtractedFields) { dst.Floor = clonePtr(src.Floor) },
	},
	{
		name:  FieldContact,
		empty: func(f *ExtractedFields) bool { return blank(f.Contact) },
		take:  func(dst, src *ExtractedFields) { dst.Contact = strings.TrimSpace(src.Contact) },
	},
	{
		name:  FieldDescription,
		empty: func(f *ExtractedFields) bool { return blank(f.Description) },
		take:  func(dst, src *ExtractedFields) { dst.Description = strings.TrimSpace(src.Description) },
	},
	{
		name:  FieldEventType,
		empty: func(f *ExtractedFields) bool { return blank(string(f.EventType)) },
		take:  func(dst, src *ExtractedFields) { dst.EventType = src.EventType },
	},
	{
		name:  FieldTitle,
		empty: func(f *ExtractedFields) bool { return blank(f.Title) },
		take:  func(dst, src *ExtractedFields) { dst.Title = strings.TrimSpace(src.Title) },
	},
	{
		name:  FieldClientName,
		empty: func(f *ExtractedFields) bool { return blank(f.ClientName) },
		take:  func(dst, src *ExtractedFields) { dst.ClientName = strings.TrimSpace(src.ClientName) },
	},
	{
		name:  FieldLocation,
		empty: func(f *ExtractedFields) bool { return blank(f.Location) },
		take:  func(dst, src *ExtractedFields) { dst.Location = strings.TrimSpace(src.Location) },
	},
	{
		name:  FieldStartTime,
		empty: func(f *ExtractedFields) bool { return f.StartTime == nil || f.StartTime.IsZero() },
		take:  func(dst, src *ExtractedFields) { dst.StartTime = clonePtr(src.StartTime) },
	},
	{
		name:  FieldDurationMinutes,
		empty: func(f *ExtractedFields) bool { return f.DurationMinutes == nil || *f.DurationMinutes <= 0 },
		take:  func(dst, src *ExtractedFields) { dst.DurationMinutes = clonePtr(src.DurationMinutes) },
	},
}

// Merge reconciles independently produced records into one canonical record.
// Records are consulted in descending priority, ties keep input order. Scalar
// fields take the first non-empty value; features are unioned.
func Merge(records []ExtractionRecord) CanonicalExtraction {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b ExtractionRecord) int {
		return b.Priority - a.Priority
	})

	result := CanonicalExtraction{
		Sources:      map[FieldName]ExtractionSource{},
		Contributors: []ExtractionSource{},
	}

	var confidenceSum float64

	seenFeatures := map[string]struct{}{}

	for i := range sorted {
		record := &sorted[i]
		contributed := false

		for _, field := range mergeFields {
			if !field.empty(&result.ExtractedFields) || field.empty(&record.Fields) {
				continue
			}

			field.take(&result.ExtractedFields, &record.Fields)
			result.Sources[field.name] = record.Source
			contributed = true
		}

		for _, feature := range record.Fields.Features {
			feature = strings.TrimSpace(feature)
			if feature == "" {
				continue
			}

			if _, dup := seenFeatures[feature]; dup {
				continue
			}

			seenFeatures[feature] = struct{}{}
			result.Features = append(result.Features, feature)
			contributed = true

			if _, ok := result.Sources[FieldFeatures]; !ok {
				result.Sources[FieldFeatures] = record.Source
			}
		}

		if contributed {
			result.Contributors = append(result.Contributors, record.Source)
			confidenceSum += clampUnit(record.Confidence)
		}
	}

	if len(result.Contributors) > 0 {
		result.Confidence = clampUnit(confidenceSum / float64(len(result.Contributors)))
	}

	return result
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}

	v := *p

	return &v
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
