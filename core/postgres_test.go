package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOwner   = "agent-1"
	testEventID = "6f1c1b1e-8d5a-4c3e-9a51-3b5f0b8e2f10"
)

var eventColumnNames = []string{
	"id", "owner_id", "title", "description", "kind", "start_time", "end_time", "location",
	"client_name", "client_phone", "status", "source", "confidence", "created_at", "updated_at",
}

func eventRows(events ...Event) *pgxmock.Rows {
	rows := pgxmock.NewRows(eventColumnNames)
	for _, e := range events {
		rows.AddRow(e.Id, e.OwnerId, e.Title, e.Description, e.Kind, e.StartTime, e.EndTime, e.Location,
			e.ClientName, e.ClientPhone, e.Status, e.Source, e.Confidence, e.CreatedAt, e.UpdatedAt)
	}

	return rows
}

func storedEvent(now time.Time) Event {
	return Event{
		Id:        testEventID,
		OwnerId:   testOwner,
		Title:     "Showing on Lenina 5",
		Kind:      KindShowing,
		StartTime: now,
		EndTime:   now.Add(90 * time.Minute),
		Location:  "Lenina 5",
		Status:    StatusScheduled,
		Source:    SourceManual,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRepository_ListEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	r := MustTimeRange(now, now.Add(8*time.Hour))

	tests := []struct {
		name       string
		mockSetup  func(mock pgxmock.PgxPoolIface)
		wantErr    bool
		wantResult []Event
	}{
		{
			name: "success",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT (.+) FROM events WHERE owner_id = \\$1 AND start_time < \\$3 AND end_time > \\$2").
					WithArgs(testOwner, r.Start(), r.End()).
					WillReturnRows(eventRows(storedEvent(now)))
			},
			wantResult: []Event{storedEvent(now)},
		},
		{
			name: "empty calendar",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT (.+) FROM events").
					WithArgs(testOwner, r.Start(), r.End()).
					WillReturnRows(eventRows())
			},
			wantResult: []Event{},
		},
		{
			name: "query failure",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT (.+) FROM events").
					WithArgs(testOwner, r.Start(), r.End()).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock, err := pgxmock.NewPool()
			require.NoError(t, err)

			defer mock.Close()

			tt.mockSetup(mock)

			repo := NewRepository(mock)
			got, err := repo.ListEvents(ctx, testOwner, r)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantResult, got)
			}

			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_GetEvent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	tests := []struct {
		name       string
		id         string
		mockSetup  func(mock pgxmock.PgxPoolIface)
		wantErr    error
		wantAnyErr bool
		wantResult *Event
	}{
		{
			name: "success",
			id:   testEventID,
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT (.+) FROM events WHERE id = \\$1 AND owner_id = \\$2").
					WithArgs(testEventID, testOwner).
					WillReturnRows(eventRows(storedEvent(now)))
			},
			wantResult: func() *Event { e := storedEvent(now); return &e }(),
		},
		{
			name: "not found",
			id:   testEventID,
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT (.+) FROM events WHERE id = \\$1").
					WithArgs(testEventID, testOwner).
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: ErrEventNotFound,
		},
		{
			name:      "malformed id never reaches the database",
			id:        "not-a-uuid",
			mockSetup: func(mock pgxmock.PgxPoolIface) {},
			wantErr:   ErrEventNotFound,
		},
		{
			name: "database failure",
			id:   testEventID,
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery("SELECT (.+) FROM events WHERE id = \\$1").
					WithArgs(testEventID, testOwner).
					WillReturnError(errors.New("timeout"))
			},
			wantAnyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock, err := pgxmock.NewPool()
			require.NoError(t, err)

			defer mock.Close()

			tt.mockSetup(mock)

			repo := NewRepository(mock)
			got, err := repo.GetEvent(ctx, testOwner, tt.id)

			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.wantAnyErr:
				require.Error(t, err)
				require.NotErrorIs(t, err, ErrEventNotFound)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantResult, got)
			}

			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_Insert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	confidence := 0.8

	event := &Event{
		OwnerId:    testOwner,
		Title:      "Call with Ivan",
		Kind:       KindCall,
		StartTime:  now,
		EndTime:    now.Add(30 * time.Minute),
		ClientName: "Ivan",
		Status:     StatusScheduled,
		Source:     SourceText,
		Confidence: &confidence,
	}

	saved := *event
	saved.Id = testEventID
	saved.CreatedAt = now
	saved.UpdatedAt = now

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	defer mock.Close()

	mock.ExpectQuery("INSERT INTO events").
		WithArgs(testOwner, "Call with Ivan", "", KindCall, now, now.Add(30*time.Minute), "",
			"Ivan", "", StatusScheduled, SourceText, &confidence).
		WillReturnRows(eventRows(saved))

	got, err := NewRepository(mock).Insert(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, &saved, got)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Update(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		mock, err := pgxmock.NewPool()
		require.NoError(t, err)

		defer mock.Close()

		event := storedEvent(now)
		event.Title = "Moved showing"

		mock.ExpectQuery("UPDATE events SET").
			WithArgs(event.Id, event.OwnerId, event.Title, event.Description, event.Kind, event.StartTime, event.EndTime,
				event.Location, event.ClientName, event.ClientPhone, event.Status).
			WillReturnRows(eventRows(event))

		got, err := NewRepository(mock).Update(ctx, &event)
		require.NoError(t, err)
		assert.Equal(t, "Moved showing", got.Title)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		t.Parallel()

		mock, err := pgxmock.NewPool()
		require.NoError(t, err)

		defer mock.Close()

		event := storedEvent(now)

		mock.ExpectQuery("UPDATE events SET").
			WithArgs(event.Id, event.OwnerId, event.Title, event.Description, event.Kind, event.StartTime, event.EndTime,
				event.Location, event.ClientName, event.ClientPhone, event.Status).
			WillReturnError(pgx.ErrNoRows)

		_, err = NewRepository(mock).Update(ctx, &event)
		require.ErrorIs(t, err, ErrEventNotFound)

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name      string
		mockSetup func(mock pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "success",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("DELETE FROM events WHERE id = \\$1 AND owner_id = \\$2").
					WithArgs(testEventID, testOwner).
					WillReturnResult(pgxmock.NewResult("DELETE", 1))
			},
		},
		{
			name: "second delete",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("DELETE FROM events").
					WithArgs(testEventID, testOwner).
					WillReturnResult(pgxmock.NewResult("DELETE", 0))
			},
			wantErr: ErrEventNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock, err := pgxmock.NewPool()
			require.NoError(t, err)

			defer mock.Close()

			tt.mockSetup(mock)

			err = NewRepository(mock).Delete(ctx, testOwner, testEventID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_WithinOwnerTx(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	r := MustTimeRange(now, now.Add(time.Hour))

	t.Run("commits after locking the owner", func(t *testing.T) {
		t.Parallel()

		mock, err := pgxmock.NewPool()
		require.NoError(t, err)

		defer mock.Close()

		mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		mock.ExpectExec("SELECT pg_advisory_xact_lock\\(hashtext\\(\\$1\\)\\)").
			WithArgs(testOwner).
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectQuery("SELECT (.+) FROM events").
			WithArgs(testOwner, r.Start(), r.End()).
			WillReturnRows(eventRows())
		mock.ExpectCommit()

		err = NewRepository(mock).WithinOwnerTx(ctx, testOwner, func(ctx context.Context, tx EventStore) error {
			_, err := tx.ListEvents(ctx, testOwner, r)
			return err
		})
		require.NoError(t, err)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		t.Parallel()

		mock, err := pgxmock.NewPool()
		require.NoError(t, err)

		defer mock.Close()

		mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs(testOwner).
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectRollback()

		conflict := &ConflictError{Conflicting: []Event{storedEvent(now)}}

		err = NewRepository(mock).WithinOwnerTx(ctx, testOwner, func(ctx context.Context, tx EventStore) error {
			return conflict
		})
		require.ErrorIs(t, err, conflict)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested calls share the transaction", func(t *testing.T) {
		t.Parallel()

		mock, err := pgxmock.NewPool()
		require.NoError(t, err)

		defer mock.Close()

		mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs(testOwner).
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectCommit()

		calls := 0
		err = NewRepository(mock).WithinOwnerTx(ctx, testOwner, func(ctx context.Context, tx EventStore) error {
			return tx.WithinOwnerTx(ctx, testOwner, func(context.Context, EventStore) error {
				calls++
				return nil
			})
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		t.Parallel()

		mock, err := pgxmock.NewPool()
		require.NoError(t, err)

		defer mock.Close()

		mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted}).WillReturnError(errors.New("too many connections"))

		err = NewRepository(mock).WithinOwnerTx(ctx, testOwner, func(context.Context, EventStore) error {
			t.Fatal("fn must not run")
			return nil
		})
		require.Error(t, err)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit failure", func(t *testing.T) {
		t.Parallel()

		mock, err := pgxmock.NewPool()
		require.NoError(t, err)

		defer mock.Close()

		mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs(testOwner).
			WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectCommit().WillReturnError(errors.New("could not serialize access"))
		mock.ExpectRollback()

		err = NewRepository(mock).WithinOwnerTx(ctx, testOwner, func(context.Context, EventStore) error {
			return nil
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to commit transaction")
	})
}

func TestRepository_GetPolicy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("stored settings", func(t *testing.T) {
		t.Parallel()

		mock, err := pgxmock.NewPool()
		require.NoError(t, err)

		defer mock.Close()

		mock.ExpectQuery("FROM calendar_settings").
			WithArgs(testOwner).
			WillReturnRows(pgxmock.NewRows([]string{"start", "end", "work_days", "min", "max", "timezone"}).
				AddRow("10:00", "19:30", 127, 45, 90, "UTC"))

		got, err := NewRepository(mock).GetPolicy(ctx, testOwner)
		require.NoError(t, err)
		assert.Equal(t, WorkingHoursPolicy{
			StartTime:      NewTimeOfDay(10, 0),
			EndTime:        NewTimeOfDay(19, 30),
			WorkDays:       AllWeek,
			MinSlotMinutes: 45,
			MaxSlotMinutes: 90,
			TimeZone:       "UTC",
		}, got)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing settings fall back to defaults", func(t *testing.T) {
		t.Parallel()

		mock, err := pgxmock.NewPool()
		require.NoError(t, err)

		defer mock.Close()

		mock.ExpectQuery("FROM calendar_settings").
			WithArgs(testOwner).
			WillReturnError(pgx.ErrNoRows)

		got, err := NewRepository(mock).GetPolicy(ctx, testOwner)
		require.NoError(t, err)
		assert.Equal(t, DefaultPolicy(), got)

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_SavePolicy(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	defer mock.Close()

	policy := DefaultPolicy()

	mock.ExpectExec("INSERT INTO calendar_settings").
		WithArgs(testOwner, "09:00", "18:00", 31, 30, 120, "Europe/Moscow").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewRepository(mock).SavePolicy(context.Background(), testOwner, policy)
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}
