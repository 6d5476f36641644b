package core

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"agent-calendar/pkg/resources"
)

const eventColumns = "id, owner_id, title, description, kind, start_time, end_time, location, " +
	"client_name, client_phone, status, source, confidence, created_at, updated_at"

//go:embed schema.sql
var schema string

// EnsureSchema creates the events and calendar_settings tables when missing.
func EnsureSchema(ctx context.Context, db resources.DBInstance) error {
	_, err := db.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	return nil
}

type Repository interface {
	EventStore
	PolicyProvider
	SavePolicy(ctx context.Context, ownerID string, policy WorkingHoursPolicy) error
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	tracer  trace.Tracer
	metrics *DBMetrics
	pool    resources.DBInstance
	db      querier
	inTx    bool
}

func NewRepository(pool resources.DBInstance) Repository {
	return &repository{
		tracer:  otel.GetTracerProvider().Tracer("agent-calendar/core"),
		metrics: NewDBMetrics(),
		pool:    pool,
		db:      pool,
	}
}

// WithinOwnerTx runs fn in a transaction holding the owner's advisory lock
// until commit. Statements run read committed so the conflict check sees the
// rows committed by the previous lock holder. Calls made on an already bound
// store reuse its transaction.
func (r *repository) WithinOwnerTx(ctx context.Context, ownerID string, fn func(ctx context.Context, tx EventStore) error) (err error) {
	if r.inTx {
		return fn(ctx, r)
	}

	start := time.Now()

	defer func() { r.metrics.Observe(ctx, "owner_tx", start, err) }()

	ctx, span := r.tracer.Start(ctx, "repository.WithinOwnerTx")
	defer span.End()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	rollback := func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }

	_, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", ownerID)
	if err != nil {
		rollback()
		return fmt.Errorf("failed to lock owner calendar: %w", err)
	}

	err = fn(ctx, r.bind(tx))
	if err != nil {
		rollback()
		return err
	}

	err = tx.Commit(ctx)
	if err != nil {
		rollback()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *repository) bind(tx pgx.Tx) *repository {
	return &repository{
		tracer:  r.tracer,
		metrics: r.metrics,
		pool:    r.pool,
		db:      tx,
		inTx:    true,
	}
}

func (r *repository) ListEvents(ctx context.Context, ownerID string, tr TimeRange) ([]Event, error) {
	start := time.Now()

	var err error

	defer func() { r.metrics.Observe(ctx, "list_events", start, err) }()

	ctx, span := r.tracer.Start(ctx, "repository.ListEvents")
	defer span.End()

	rows, err := r.db.Query(ctx,
		"SELECT "+eventColumns+" FROM events "+
			"WHERE owner_id = $1 AND start_time < $3 AND end_time > $2 "+
			"ORDER BY start_time, id",
		ownerID, tr.Start(), tr.End())
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []Event{}

	for rows.Next() {
		var e *Event

		e, err = scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		events = append(events, *e)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	return events, nil
}

func (r *repository) GetEvent(ctx context.Context, ownerID string, id string) (*Event, error) {
	start := time.Now()

	var err error

	defer func() { r.metrics.Observe(ctx, "get_event", start, err) }()

	ctx, span := r.tracer.Start(ctx, "repository.GetEvent")
	defer span.End()

	if uuid.Validate(id) != nil {
		return nil, ErrEventNotFound
	}

	e, err := scanEvent(r.db.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM events WHERE id = $1 AND owner_id = $2",
		id, ownerID))
	if err != nil {
		err = notFound(err, "failed to get event")
		return nil, err
	}

	return e, nil
}

func (r *repository) Insert(ctx context.Context, event *Event) (*Event, error) {
	start := time.Now()

	var err error

	defer func() { r.metrics.Observe(ctx, "insert_event", start, err) }()

	ctx, span := r.tracer.Start(ctx, "repository.Insert")
	defer span.End()

	saved, err := scanEvent(r.db.QueryRow(ctx,
		"INSERT INTO events (owner_id, title, description, kind, start_time, end_time, location, "+
			"client_name, client_phone, status, source, confidence) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) "+
			"RETURNING "+eventColumns,
		event.OwnerId, event.Title, event.Description, event.Kind, event.StartTime, event.EndTime, event.Location,
		event.ClientName, event.ClientPhone, event.Status, event.Source, event.Confidence))
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	return saved, nil
}

func (r *repository) Update(ctx context.Context, event *Event) (*Event, error) {
	start := time.Now()

	var err error

	defer func() { r.metrics.Observe(ctx, "update_event", start, err) }()

	ctx, span := r.tracer.Start(ctx, "repository.Update")
	defer span.End()

	saved, err := scanEvent(r.db.QueryRow(ctx,
		"UPDATE events SET title = $3, description = $4, kind = $5, start_time = $6, end_time = $7, "+
			"location = $8, client_name = $9, client_phone = $10, status = $11, updated_at = now() "+
			"WHERE id = $1 AND owner_id = $2 "+
			"RETURNING "+eventColumns,
		event.Id, event.OwnerId, event.Title, event.Description, event.Kind, event.StartTime, event.EndTime,
		event.Location, event.ClientName, event.ClientPhone, event.Status))
	if err != nil {
		err = notFound(err, "failed to update event")
		return nil, err
	}

	return saved, nil
}

func (r *repository) Delete(ctx context.Context, ownerID string, id string) error {
	start := time.Now()

	var err error

	defer func() { r.metrics.Observe(ctx, "delete_event", start, err) }()

	ctx, span := r.tracer.Start(ctx, "repository.Delete")
	defer span.End()

	if uuid.Validate(id) != nil {
		return ErrEventNotFound
	}

	tag, err := r.db.Exec(ctx, "DELETE FROM events WHERE id = $1 AND owner_id = $2", id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}

	return nil
}

// GetPolicy returns the owner's working hours, or DefaultPolicy when none were saved.
func (r *repository) GetPolicy(ctx context.Context, ownerID string) (WorkingHoursPolicy, error) {
	start := time.Now()

	var err error

	defer func() { r.metrics.Observe(ctx, "get_policy", start, err) }()

	ctx, span := r.tracer.Start(ctx, "repository.GetPolicy")
	defer span.End()

	var (
		startTime, endTime string
		workDays           int
		policy             WorkingHoursPolicy
	)

	err = r.db.QueryRow(ctx,
		`SELECT to_char(work_start_time, 'HH24:MI'), to_char(work_end_time, 'HH24:MI'), work_days,
		        min_meeting_duration, max_meeting_duration, timezone
		 FROM calendar_settings
		 WHERE owner_id = $1`,
		ownerID,
	).Scan(&startTime, &endTime, &workDays, &policy.MinSlotMinutes, &policy.MaxSlotMinutes, &policy.TimeZone)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		return DefaultPolicy(), nil
	}

	if err != nil {
		return WorkingHoursPolicy{}, fmt.Errorf("failed to get calendar settings: %w", err)
	}

	policy.WorkDays = Weekdays(workDays)

	policy.StartTime, err = ParseTimeOfDay(startTime)
	if err != nil {
		return WorkingHoursPolicy{}, fmt.Errorf("failed to read calendar settings: %w", err)
	}

	policy.EndTime, err = ParseTimeOfDay(endTime)
	if err != nil {
		return WorkingHoursPolicy{}, fmt.Errorf("failed to read calendar settings: %w", err)
	}

	return policy, nil
}

func (r *repository) SavePolicy(ctx context.Context, ownerID string, policy WorkingHoursPolicy) error {
	start := time.Now()

	var err error

	defer func() { r.metrics.Observe(ctx, "save_policy", start, err) }()

	ctx, span := r.tracer.Start(ctx, "repository.SavePolicy")
	defer span.End()

	_, err = r.db.Exec(ctx,
		`INSERT INTO calendar_settings (owner_id, work_start_time, work_end_time, work_days,
		                                min_meeting_duration, max_meeting_duration, timezone)
		 VALUES ($1, $2::time, $3::time, $4, $5, $6, $7)
		 ON CONFLICT (owner_id) DO UPDATE
		 SET work_start_time = EXCLUDED.work_start_time, work_end_time = EXCLUDED.work_end_time,
		     work_days = EXCLUDED.work_days, min_meeting_duration = EXCLUDED.min_meeting_duration,
		     max_meeting_duration = EXCLUDED.max_meeting_duration, timezone = EXCLUDED.timezone,
		     updated_at = now()`,
		ownerID, policy.StartTime.String(), policy.EndTime.String(), int(policy.WorkDays),
		policy.MinSlotMinutes, policy.MaxSlotMinutes, policy.TimeZone)
	if err != nil {
		return fmt.Errorf("failed to save calendar settings: %w", err)
	}

	return nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event

	err := row.Scan(
		&e.Id,
		&e.OwnerId,
		&e.Title,
		&e.Description,
		&e.Kind,
		&e.StartTime,
		&e.EndTime,
		&e.Location,
		&e.ClientName,
		&e.ClientPhone,
		&e.Status,
		&e.Source,
		&e.Confidence,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrEventNotFound
	}

	return fmt.Errorf("%s: %w", msg, err)
}

/*

 */

type DBMetrics struct {
	qTotal   metric.Int64Counter
	qErrors  metric.Int64Counter
	qLatency metric.Float64Histogram
}

func NewDBMetrics() *DBMetrics {
	meter := otel.Meter("agent-calendar/db")

	qTotal, _ := meter.Int64Counter("db.query.total")
	qErrors, _ := meter.Int64Counter("db.query.errors.total")
	qLatency, _ := meter.Float64Histogram("db.query.duration.ms")

	return &DBMetrics{qTotal: qTotal, qErrors: qErrors, qLatency: qLatency}
}

// Observe records one storage operation. Not-found lookups are not counted as errors.
func (m *DBMetrics) Observe(ctx context.Context, op string, start time.Time, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgres"),
		attribute.String("db.operation", op),
	}

	m.qTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	ms := float64(time.Since(start).Milliseconds())
	m.qLatency.Record(ctx, ms, metric.WithAttributes(attrs...))

	if err != nil && !errors.Is(err, ErrEventNotFound) {
		m.qErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
