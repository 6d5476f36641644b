package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var validate, translator = newValidator()

// newValidator reports fields by their JSON names and renders failures as
// English sentences.
func newValidator() (*validator.Validate, ut.Translator) {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})

	locale := en.New()

	trans, _ := ut.New(locale, locale).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	return v, trans
}

func ValidateEvent(event Event) error {
	event.Title = strings.TrimSpace(event.Title)
	if len(event.Title) == 0 {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}

	if utf8.RuneCountInString(event.Title) > 200 {
		return &ValidationError{Field: "title", Reason: "title is too long (200 characters tops)"}
	}

	if !event.StartTime.Before(event.EndTime) {
		return &ValidationError{Field: "end_time", Reason: "end time must be after start time"}
	}

	return structError(validate.Struct(event))
}

func ValidatePatch(patch EventPatch) error {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}

	return structError(validate.Struct(patch))
}

func ValidatePolicy(policy WorkingHoursPolicy) error {
	if policy.StartTime < 0 || policy.EndTime > NewTimeOfDay(24, 0) {
		return &ValidationError{Field: "start_time", Reason: "working hours must stay within one day"}
	}

	if policy.StartTime >= policy.EndTime {
		return &ValidationError{Field: "end_time", Reason: "working day must end after it starts"}
	}

	if policy.MaxSlotMinutes > 0 && policy.MinSlotMinutes > policy.MaxSlotMinutes {
		return &ValidationError{Field: "min_slot_minutes", Reason: "minimum slot exceeds maximum slot"}
	}

	if policy.TimeZone != "" {
		_, err := time.LoadLocation(policy.TimeZone)
		if err != nil {
			return &ValidationError{Field: "time_zone", Reason: err.Error()}
		}
	}

	return structError(validate.Struct(policy))
}

func ValidateRecord(record ExtractionRecord) error {
	if _, ok := sourcePriority[record.Source]; !ok {
		return &ValidationError{Field: "source", Reason: fmt.Sprintf("unknown extraction source %q", record.Source)}
	}

	return structError(validate.Struct(record))
}

func structError(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}

	first := fieldErrs[0]

	return &ValidationError{Field: first.Field(), Reason: first.Translate(translator)}
}
