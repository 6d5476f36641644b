package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"agent-calendar/core"
	"agent-calendar/pkg/extraction"
)

// IngestMessage is the body accepted on calendar.ingest.requested. Either Text
// is given and runs through the extraction pipeline, or Records carry the
// extraction results produced elsewhere.
type IngestMessage struct {
	OwnerID   string                  `json:"owner_id"`
	Text      string                  `json:"text,omitempty"`
	Modality  extraction.Modality     `json:"modality,omitempty"`
	Records   []core.ExtractionRecord `json:"records,omitempty"`
	StartTime *time.Time              `json:"start_time,omitempty"`
	EndTime   *time.Time              `json:"end_time,omitempty"`
}

type IngestReply struct {
	Status string             `json:"status"`
	Result *core.IngestResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

type Extractor interface {
	Run(ctx context.Context, text string, modality extraction.Modality) ([]core.ExtractionRecord, error)
}

type IngestHandler struct {
	scheduler  core.Scheduler
	pipeline   Extractor
	attempts   uint
	retryDelay time.Duration
}

// NewIngestHandler builds the handler. pipeline may be nil when only
// pre-extracted records are expected.
func NewIngestHandler(scheduler core.Scheduler, pipeline Extractor) *IngestHandler {
	return &IngestHandler{
		scheduler:  scheduler,
		pipeline:   pipeline,
		attempts:   3,
		retryDelay: 200 * time.Millisecond,
	}
}

func (h *IngestHandler) Handle(ctx context.Context, subject string, data []byte) (any, error) {
	logger := log.Ctx(ctx).With().Str("subject", subject).Logger()

	var msg IngestMessage

	err := json.Unmarshal(data, &msg)
	if err != nil {
		return IngestReply{Status: "rejected", Error: "malformed message"}, fmt.Errorf("unmarshal ingest message: %w", err)
	}

	records := msg.Records

	if strings.TrimSpace(msg.Text) != "" {
		if h.pipeline == nil {
			return IngestReply{Status: "rejected", Error: "text extraction is not configured"}, nil
		}

		modality := msg.Modality
		if modality == "" {
			modality = extraction.ModalityText
		}

		extracted, err := h.pipeline.Run(ctx, msg.Text, modality)
		if err != nil {
			var validation *core.ValidationError
			if errors.As(err, &validation) {
				logger.Info().Err(err).Str("owner_id", msg.OwnerID).Msg("message rejected before extraction")
				return replyFor(nil, err), nil
			}

			return replyFor(nil, err), err
		}

		records = append(records, extracted...)
	}

	if len(records) == 0 {
		logger.Info().Str("owner_id", msg.OwnerID).Msg("nothing extracted from message")

		return IngestReply{
			Status: string(core.OutcomeLowConfidence),
			Result: &core.IngestResult{Outcome: core.OutcomeLowConfidence},
		}, nil
	}

	request := core.IngestRequest{
		OwnerId:   msg.OwnerID,
		Records:   records,
		StartTime: msg.StartTime,
		EndTime:   msg.EndTime,
	}

	result, err := retry.DoWithData(
		func() (*core.IngestResult, error) {
			return h.scheduler.IngestAndCreate(ctx, request)
		},
		retry.Context(ctx),
		retry.Attempts(h.attempts),
		retry.Delay(h.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(core.IsStorageError),
		retry.LastErrorOnly(true),
	)

	reply := replyFor(result, err)
	if err != nil {
		var validation *core.ValidationError
		var conflict *core.ConflictError

		if errors.As(err, &validation) || errors.As(err, &conflict) {
			logger.Info().Err(err).Str("owner_id", msg.OwnerID).Msg("ingested event rejected")
			return reply, nil
		}

		return reply, err
	}

	logger.Info().Str("owner_id", msg.OwnerID).Str("outcome", string(result.Outcome)).Msg("message ingested")

	return reply, nil
}

func replyFor(result *core.IngestResult, err error) IngestReply {
	var conflict *core.ConflictError
	var validation *core.ValidationError

	switch {
	case err == nil:
		return IngestReply{Status: string(result.Outcome), Result: result}
	case errors.As(err, &conflict):
		return IngestReply{Status: "conflict", Error: err.Error()}
	case errors.As(err, &validation):
		return IngestReply{Status: "rejected", Error: err.Error()}
	default:
		return IngestReply{Status: "error", Error: err.Error()}
	}
}
