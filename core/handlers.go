package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const OwnerHeader = "X-Owner-ID"

type Handlers interface {
	PostEvents(gctx *gin.Context)
	PostEventsBulk(gctx *gin.Context)
	GetConflicts(gctx *gin.Context)
	GetEvents(gctx *gin.Context)
	GetEvent(gctx *gin.Context)
	PatchEvent(gctx *gin.Context)
	DeleteEvent(gctx *gin.Context)
	PostSuggestions(gctx *gin.Context)
	PostIngest(gctx *gin.Context)
	GetExport(gctx *gin.Context)
	GetSettings(gctx *gin.Context)
	PutSettings(gctx *gin.Context)
	GetHealth(gctx *gin.Context)
}

type PolicyStore interface {
	PolicyProvider
	SavePolicy(ctx context.Context, ownerID string, policy WorkingHoursPolicy) error
}

type RangeQuery struct {
	From             time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To               time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	IncludeCancelled bool      `form:"include_cancelled"`
}

// MaxBulkEvents bounds the size of one bulk create request.
const MaxBulkEvents = 100

// BulkItemError reports why the event at Index of a bulk request was not created.
type BulkItemError struct {
	Index  int    `json:"index"`
	Status int    `json:"status"`
	Error  string `json:"error"`
}

type BulkCreateResult struct {
	Created []Event         `json:"created"`
	Errors  []BulkItemError `json:"errors"`
}

type ConflictCheck struct {
	HasConflicts bool    `json:"has_conflicts"`
	Conflicts    []Event `json:"conflicts"`
}

// MaxSuggestionHorizon bounds how far ahead one suggestion request may look.
const MaxSuggestionHorizon = 31 * 24 * time.Hour

type SuggestionRequest struct {
	DurationMinutes int       `json:"duration_minutes"`
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	MaxResults      int       `json:"max_results"`
}

type handlers struct {
	scheduler  Scheduler
	policies   PolicyStore
	ping       func(ctx context.Context) error
	retryDelay time.Duration
}

// NewHandlers builds the REST handlers. ping backs the health check and may be nil.
func NewHandlers(scheduler Scheduler, policies PolicyStore, ping func(ctx context.Context) error) Handlers {
	return &handlers{
		scheduler:  scheduler,
		policies:   policies,
		ping:       ping,
		retryDelay: 100 * time.Millisecond,
	}
}

func (h *handlers) PostEvents(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	owner, ok := h.owner(gctx)
	if !ok {
		return
	}

	var event Event

	err := gctx.ShouldBindJSON(&event)
	if err != nil {
		log.Ctx(ctx).Info().Err(err).Msg("failed to bind JSON")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("failed to bind JSON", err))

		return
	}

	event.OwnerId = owner

	saved, err := withRetry(ctx, h.retryDelay, func() (*Event, error) {
		return h.scheduler.CreateEvent(ctx, event)
	})
	if err != nil {
		h.fail(gctx, "creating event failed", err)
		return
	}

	gctx.JSON(http.StatusCreated, saved)
}

// PostEventsBulk creates each event on its own. One failing item does not
// stop the others; later items see the events created before them.
func (h *handlers) PostEventsBulk(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	owner, ok := h.owner(gctx)
	if !ok {
		return
	}

	var events []Event

	err := gctx.ShouldBindJSON(&events)
	if err != nil {
		log.Ctx(ctx).Info().Err(err).Msg("failed to bind JSON")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("failed to bind JSON", err))

		return
	}

	if len(events) == 0 || len(events) > MaxBulkEvents {
		h.fail(gctx, "invalid bulk request", &ValidationError{Field: "events", Reason: fmt.Sprintf("between 1 and %d events are required", MaxBulkEvents)})
		return
	}

	result := BulkCreateResult{Created: []Event{}, Errors: []BulkItemError{}}

	for i, event := range events {
		event.OwnerId = owner

		saved, err := withRetry(ctx, h.retryDelay, func() (*Event, error) {
			return h.scheduler.CreateEvent(ctx, event)
		})
		if err != nil {
			log.Ctx(ctx).Info().Err(err).Int("index", i).Msg("bulk item rejected")
			result.Errors = append(result.Errors, BulkItemError{Index: i, Status: StatusFor(err), Error: err.Error()})

			continue
		}

		result.Created = append(result.Created, *saved)
	}

	status := http.StatusCreated
	if len(result.Errors) > 0 {
		status = http.StatusMultiStatus
	}

	gctx.JSON(status, result)
}

// GetConflicts reports every event overlapping the from/to range without
// writing anything. exclude_event_id skips the event being edited.
func (h *handlers) GetConflicts(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	owner, ok := h.owner(gctx)
	if !ok {
		return
	}

	r, _, ok := h.queryRange(gctx)
	if !ok {
		return
	}

	conflicts, err := withRetry(ctx, h.retryDelay, func() ([]Event, error) {
		return h.scheduler.CheckConflicts(ctx, owner, r, gctx.Query("exclude_event_id"))
	})
	if err != nil {
		h.fail(gctx, "checking conflicts failed", err)
		return
	}

	gctx.JSON(http.StatusOK, ConflictCheck{HasConflicts: len(conflicts) > 0, Conflicts: conflicts})
}

func (h *handlers) GetEvents(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	owner, ok := h.owner(gctx)
	if !ok {
		return
	}

	r, _, ok := h.queryRange(gctx)
	if !ok {
		return
	}

	events, err := withRetry(ctx, h.retryDelay, func() ([]Event, error) {
		return h.scheduler.ListEvents(ctx, owner, r)
	})
	if err != nil {
		h.fail(gctx, "listing events failed", err)
		return
	}

	gctx.JSON(http.StatusOK, events)
}

func (h *handlers) GetEvent(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	owner, ok := h.owner(gctx)
	if !ok {
		return
	}

	body, err := io.ReadAll(gctx.Request.Body)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to read request body")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("failed to read request body", err))

		return
	}

	// GET requests carry no body
	if len(body) != 0 {
		log.Ctx(ctx).Info().Msg("request body is not empty")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("request body is not empty"))

		return
	}

	id := gctx.Param("id")
	if len(id) == 0 {
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("parameter 'id' is required"))
		return
	}

	event, err := withRetry(ctx, h.retryDelay, func() (*Event, error) {
		return h.scheduler.GetEvent(ctx, owner, id)
	})
	if err != nil {
		h.fail(gctx, "getting event failed", err)
		return
	}

	gctx.JSON(http.StatusOK, event)
}

func (h *handlers) PatchEvent(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	owner, ok := h.owner(gctx)
	if !ok {
		return
	}

	var patch EventPatch

	err := gctx.ShouldBindJSON(&patch)
	if err != nil {
		log.Ctx(ctx).Info().Err(err).Msg("failed to bind JSON")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("failed to bind JSON", err))

		return
	}

	id := gctx.Param("id")

	updated, err := withRetry(ctx, h.retryDelay, func() (*Event, error) {
		return h.scheduler.UpdateEvent(ctx, owner, id, patch)
	})
	if err != nil {
		h.fail(gctx, "updating event failed", err)
		return
	}

	gctx.JSON(http.StatusOK, updated)
}

func (h *handlers) DeleteEvent(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	owner, ok := h.owner(gctx)
	if !ok {
		return
	}

	id := gctx.Param("id")

	_, err := withRetry(ctx, h.retryDelay, func() (struct{}, error) {
		return struct{}{}, h.scheduler.DeleteEvent(ctx, owner, id)
	})
	if err != nil {
		h.fail(gctx, "deleting event failed", err)
		return
	}

	gctx.Status(http.StatusNoContent)
}

func (h *handlers) PostSuggestions(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	owner, ok := h.owner(gctx)
	if !ok {
		return
	}

	var request SuggestionRequest

	err := gctx.ShouldBindJSON(&request)
	if err != nil {
		log.Ctx(ctx).Info().Err(err).Msg("failed to bind JSON")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("failed to bind JSON", err))

		return
	}

	horizon, err := NewTimeRange(request.From, request.To)
	if err != nil {
		h.fail(gctx, "invalid horizon", err)
		return
	}

	if horizon.Duration() > MaxSuggestionHorizon {
		h.fail(gctx, "invalid horizon", &ValidationError{Field: "to", Reason: "horizon is limited to 31 days"})
		return
	}

	slots, err := withRetry(ctx, h.retryDelay, func() ([]RankedSlot, error) {
		return h.scheduler.SuggestTimes(ctx, owner, request.DurationMinutes, horizon, request.MaxResults)
	})
	if err != nil {
		h.fail(gctx, "suggesting times failed", err)
		return
	}

	gctx.JSON(http.StatusOK, gin.H{"slots": slots})
}

func (h *handlers) PostIngest(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	owner, ok := h.owner(gctx)
	if !ok {
		return
	}

	var request IngestRequest

	err := gctx.ShouldBindJSON(&request)
	if err != nil {
		log.Ctx(ctx).Info().Err(err).Msg("failed to bind JSON")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("failed to bind JSON", err))

		return
	}

	request.OwnerId = owner

	result, err := withRetry(ctx, h.retryDelay, func() (*IngestResult, error) {
		return h.scheduler.IngestAndCreate(ctx, request)
	})
	if err != nil {
		h.fail(gctx, "ingesting extraction failed", err)
		return
	}

	if result.Outcome == OutcomeLowConfidence {
		gctx.JSON(http.StatusAccepted, result)
		return
	}

	gctx.JSON(http.StatusCreated, result)
}

func (h *handlers) GetExport(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	owner, ok := h.owner(gctx)
	if !ok {
		return
	}

	r, query, ok := h.queryRange(gctx)
	if !ok {
		return
	}

	events, err := withRetry(ctx, h.retryDelay, func() ([]Event, error) {
		return h.scheduler.ListEvents(ctx, owner, r)
	})
	if err != nil {
		h.fail(gctx, "exporting events failed", err)
		return
	}

	var buf bytes.Buffer

	err = WriteICS(&buf, events, query.IncludeCancelled, time.Now())
	if err != nil {
		h.fail(gctx, "exporting events failed", err)
		return
	}

	gctx.Header("Content-Disposition", `attachment; filename="calendar.ics"`)
	gctx.Data(http.StatusOK, "text/calendar; charset=utf-8", buf.Bytes())
}

func (h *handlers) GetSettings(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	owner, ok := h.owner(gctx)
	if !ok {
		return
	}

	policy, err := withRetry(ctx, h.retryDelay, func() (WorkingHoursPolicy, error) {
		return wrapStorage("get policy", h.policies.GetPolicy)(ctx, owner)
	})
	if err != nil {
		h.fail(gctx, "getting settings failed", err)
		return
	}

	gctx.JSON(http.StatusOK, policy)
}

func (h *handlers) PutSettings(gctx *gin.Context) {
	ctx := gctx.Request.Context()

	owner, ok := h.owner(gctx)
	if !ok {
		return
	}

	var policy WorkingHoursPolicy

	err := gctx.ShouldBindJSON(&policy)
	if err != nil {
		log.Ctx(ctx).Info().Err(err).Msg("failed to bind JSON")
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("failed to bind JSON", err))

		return
	}

	err = ValidatePolicy(policy)
	if err != nil {
		h.fail(gctx, "settings validation failed", err)
		return
	}

	_, err = withRetry(ctx, h.retryDelay, func() (struct{}, error) {
		return struct{}{}, storageError("save policy", h.policies.SavePolicy(ctx, owner, policy))
	})
	if err != nil {
		h.fail(gctx, "saving settings failed", err)
		return
	}

	gctx.JSON(http.StatusOK, policy)
}

func (h *handlers) GetHealth(gctx *gin.Context) {
	if h.ping != nil {
		err := h.ping(gctx.Request.Context())
		if err != nil {
			gctx.AbortWithStatusJSON(http.StatusServiceUnavailable, NewError("database unavailable", err))
			return
		}
	}

	gctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) owner(gctx *gin.Context) (string, bool) {
	owner := gctx.GetHeader(OwnerHeader)
	if owner == "" {
		gctx.AbortWithStatusJSON(http.StatusUnauthorized, NewError("header "+OwnerHeader+" is required"))
		return "", false
	}

	return owner, true
}

func (h *handlers) queryRange(gctx *gin.Context) (TimeRange, RangeQuery, bool) {
	var query RangeQuery

	err := gctx.ShouldBindQuery(&query)
	if err != nil {
		gctx.AbortWithStatusJSON(http.StatusBadRequest, NewError("query parameters 'from' and 'to' must be RFC 3339 timestamps", err))
		return TimeRange{}, query, false
	}

	r, err := NewTimeRange(query.From, query.To)
	if err != nil {
		h.fail(gctx, "invalid range", err)
		return TimeRange{}, query, false
	}

	return r, query, true
}

func (h *handlers) fail(gctx *gin.Context, msg string, err error) {
	status := StatusFor(err)

	logger := log.Ctx(gctx.Request.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg(msg)
	} else {
		logger.Info().Err(err).Int("status", status).Msg(msg)
	}

	gctx.AbortWithStatusJSON(status, NewError(msg, err))
}

// StatusFor maps the scheduling error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	var (
		validationErr *ValidationError
		conflictErr   *ConflictError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &conflictErr):
		return http.StatusConflict
	case errors.Is(err, ErrEventNotFound):
		return http.StatusNotFound
	case IsStorageError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// withRetry retries fn once, with backoff, when it fails with a StorageError.
func withRetry[T any](ctx context.Context, delay time.Duration, fn func() (T, error)) (T, error) {
	return retry.DoWithData(fn,
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(IsStorageError),
		retry.LastErrorOnly(true),
	)
}

func wrapStorage[T any](op string, fn func(ctx context.Context, ownerID string) (T, error)) func(ctx context.Context, ownerID string) (T, error) {
	return func(ctx context.Context, ownerID string) (T, error) {
		v, err := fn(ctx, ownerID)
		return v, storageError(op, err)
	}
}
