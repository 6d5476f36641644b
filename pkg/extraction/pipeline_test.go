package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-calendar/core"
)

type fakeModel struct {
	record core.ExtractionRecord
	err    error
}

func (f fakeModel) Extract(_ context.Context, _ string) (core.ExtractionRecord, error) {
	return f.record, f.err
}

func TestPipeline_Run(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	parser := NewParser(time.UTC, func() time.Time { return now })
	modelRecord := core.NewExtractionRecord(core.ExtractionGPT, core.ExtractedFields{Title: "Показ"}, 0.9)

	tests := []struct {
		name     string
		model    Extractor
		text     string
		modality Modality
		sources  []core.ExtractionSource
	}{
		{
			name:     "model and parser",
			model:    fakeModel{record: modelRecord},
			text:     "показ завтра в 11:00",
			modality: ModalityText,
			sources:  []core.ExtractionSource{core.ExtractionGPT, core.ExtractionTextRegex},
		},
		{
			name:     "model failure falls back to parser",
			model:    fakeModel{err: errors.New("rate limited")},
			text:     "показ завтра в 11:00",
			modality: ModalityOCR,
			sources:  []core.ExtractionSource{core.ExtractionOCR},
		},
		{
			name:     "image is read as ocr",
			text:     "показ завтра в 11:00",
			modality: ModalityImage,
			sources:  []core.ExtractionSource{core.ExtractionOCR},
		},
		{
			name:     "ocr modality from a bot message",
			text:     "Квартира 54 м², показ в 15:00",
			modality: Modality("ocr"),
			sources:  []core.ExtractionSource{core.ExtractionOCR},
		},
		{
			name:     "parser found nothing",
			model:    fakeModel{record: modelRecord},
			text:     "привет",
			modality: ModalityVoice,
			sources:  []core.ExtractionSource{core.ExtractionGPT},
		},
		{
			name:     "no model configured",
			text:     "созвон в 16:00",
			modality: ModalityVoice,
			sources:  []core.ExtractionSource{core.ExtractionVoice},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			records, err := NewPipeline(tt.model, parser).Run(context.Background(), tt.text, tt.modality)
			require.NoError(t, err)

			sources := make([]core.ExtractionSource, 0, len(records))
			for _, r := range records {
				sources = append(sources, r.Source)
			}

			assert.Equal(t, tt.sources, sources)
		})
	}
}

func TestPipeline_UnknownModality(t *testing.T) {
	t.Parallel()

	_, err := NewPipeline(nil, NewParser(nil, nil)).Run(context.Background(), "text", "fax")

	var validation *core.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "modality", validation.Field)
}
