package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConflictDetector_HasConflict(t *testing.T) {
	t.Parallel()

	showing := testEvent("agent-1", "Showing", monday(10, 0), monday(11, 0))
	showing.Id = "showing"
	cancelled := testEvent("agent-1", "Cancelled call", monday(12, 0), monday(13, 0))
	cancelled.Id = "cancelled"
	cancelled.Status = StatusCancelled
	foreign := testEvent("agent-2", "Other agent", monday(14, 0), monday(15, 0))
	foreign.Id = "foreign"

	store := newMemoryStore(showing, cancelled, foreign)
	detector := NewConflictDetector(store)

	tests := []struct {
		name      string
		candidate TimeRange
		exclude   string
		want      []string
	}{
		{name: "overlap", candidate: MustTimeRange(monday(10, 30), monday(11, 30)), want: []string{"showing"}},
		{name: "touching end", candidate: MustTimeRange(monday(11, 0), monday(12, 0))},
		{name: "touching start", candidate: MustTimeRange(monday(9, 0), monday(10, 0))},
		{name: "cancelled events do not block", candidate: MustTimeRange(monday(12, 0), monday(13, 0))},
		{name: "other owners do not block", candidate: MustTimeRange(monday(14, 0), monday(15, 0))},
		{name: "moving event is excluded", candidate: MustTimeRange(monday(10, 15), monday(11, 15)), exclude: "showing"},
		{name: "empty candidate", candidate: TimeRange{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			found, conflicting, err := detector.HasConflict(context.Background(), "agent-1", tt.candidate, tt.exclude)
			require.NoError(t, err)

			ids := make([]string, 0, len(conflicting))
			for _, e := range conflicting {
				ids = append(ids, e.Id)
			}

			assert.Equal(t, len(tt.want) > 0, found)
			assert.ElementsMatch(t, tt.want, ids)
		})
	}
}

func TestConflictDetector_StorageError(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.failWith = errors.New("connection reset")

	_, _, err := NewConflictDetector(store).HasConflict(context.Background(), "agent-1", MustTimeRange(monday(9, 0), monday(10, 0)), "")
	require.EqualError(t, err, "connection reset")
}

func TestOverlapping_ReturnsEveryConflict(t *testing.T) {
	t.Parallel()

	events := []Event{
		testEvent("agent-1", "a", monday(9, 0), monday(10, 0)),
		testEvent("agent-1", "b", monday(9, 30), monday(11, 0)),
		testEvent("agent-1", "c", monday(11, 0), monday(12, 0)),
		{OwnerId: "agent-1", Title: "broken", StartTime: monday(10, 0), EndTime: monday(9, 0)},
	}

	got := Overlapping(events, MustTimeRange(monday(9, 45), monday(11, 0)), "")

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Title)
	assert.Equal(t, "b", got[1].Title)
}
