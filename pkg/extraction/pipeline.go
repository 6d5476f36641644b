package extraction

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"agent-calendar/core"
)

// Modality is the channel a message arrived through. Voice and OCR
// messages reach the pipeline already transcribed.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityOCR   Modality = "ocr"
	ModalityVoice Modality = "voice"
	// ModalityImage is accepted as an alias of ModalityOCR.
	ModalityImage Modality = "image"
)

var modalitySources = map[Modality]core.ExtractionSource{
	ModalityText:  core.ExtractionTextRegex,
	ModalityOCR:   core.ExtractionOCR,
	ModalityImage: core.ExtractionOCR,
	ModalityVoice: core.ExtractionVoice,
}

type Extractor interface {
	Extract(ctx context.Context, text string) (core.ExtractionRecord, error)
}

// Pipeline runs the model extractor and the pattern parser side by side.
type Pipeline struct {
	model  Extractor
	parser *Parser
}

// NewPipeline builds a pipeline. model may be nil, leaving only the parser.
func NewPipeline(model Extractor, parser *Parser) *Pipeline {
	return &Pipeline{model: model, parser: parser}
}

// Run returns one record per producer that found something. A failing model
// call is logged and skipped, the parser result is still returned.
func (p *Pipeline) Run(ctx context.Context, text string, modality Modality) ([]core.ExtractionRecord, error) {
	source, ok := modalitySources[modality]
	if !ok {
		return nil, &core.ValidationError{Field: "modality", Reason: fmt.Sprintf("unknown modality %q", modality)}
	}

	var (
		modelRecord  *core.ExtractionRecord
		parserRecord core.ExtractionRecord
	)

	group, gctx := errgroup.WithContext(ctx)

	if p.model != nil {
		group.Go(func() error {
			record, err := p.model.Extract(gctx, text)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("modality", string(modality)).Msg("model extraction failed, falling back to parser")
				return nil
			}

			modelRecord = &record

			return nil
		})
	}

	group.Go(func() error {
		parserRecord = p.parser.Parse(text, source)
		return nil
	})

	err := group.Wait()
	if err != nil {
		return nil, err
	}

	var records []core.ExtractionRecord

	if modelRecord != nil {
		records = append(records, *modelRecord)
	}

	if parserRecord.Confidence > 0 {
		records = append(records, parserRecord)
	}

	return records, nil
}
