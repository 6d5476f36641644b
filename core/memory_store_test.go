package core

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore is an EventStore kept in a map. WithinOwnerTx serialises
// callers per owner the way the advisory lock does in Postgres.
type memoryStore struct {
	mu       sync.Mutex
	events   map[string]Event
	policies map[string]WorkingHoursPolicy
	locks    map[string]*sync.Mutex
	failWith error
	now      func() time.Time
}

func newMemoryStore(events ...Event) *memoryStore {
	s := &memoryStore{
		events:   map[string]Event{},
		policies: map[string]WorkingHoursPolicy{},
		locks:    map[string]*sync.Mutex{},
		now:      time.Now,
	}

	for _, e := range events {
		if e.Id == "" {
			e.Id = uuid.NewString()
		}

		if e.Status == "" {
			e.Status = StatusScheduled
		}

		s.events[e.Id] = e
	}

	return s
}

func (s *memoryStore) ListEvents(_ context.Context, ownerID string, r TimeRange) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return nil, s.failWith
	}

	events := []Event{}

	for _, e := range s.events {
		if e.OwnerId == ownerID && e.StartTime.Before(r.End()) && e.EndTime.After(r.Start()) {
			events = append(events, e)
		}
	}

	slices.SortFunc(events, func(a, b Event) int {
		return a.StartTime.Compare(b.StartTime)
	})

	return events, nil
}

func (s *memoryStore) GetEvent(_ context.Context, ownerID string, id string) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return nil, s.failWith
	}

	e, ok := s.events[id]
	if !ok || e.OwnerId != ownerID {
		return nil, ErrEventNotFound
	}

	return &e, nil
}

func (s *memoryStore) Insert(_ context.Context, event *Event) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return nil, s.failWith
	}

	saved := *event
	saved.Id = uuid.NewString()
	saved.CreatedAt = s.now()
	saved.UpdatedAt = saved.CreatedAt
	s.events[saved.Id] = saved

	return &saved, nil
}

func (s *memoryStore) Update(_ context.Context, event *Event) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return nil, s.failWith
	}

	if _, ok := s.events[event.Id]; !ok {
		return nil, ErrEventNotFound
	}

	saved := *event
	saved.UpdatedAt = s.now()
	s.events[saved.Id] = saved

	return &saved, nil
}

func (s *memoryStore) Delete(_ context.Context, ownerID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}

	e, ok := s.events[id]
	if !ok || e.OwnerId != ownerID {
		return ErrEventNotFound
	}

	delete(s.events, id)

	return nil
}

func (s *memoryStore) WithinOwnerTx(ctx context.Context, ownerID string, fn func(ctx context.Context, tx EventStore) error) error {
	s.mu.Lock()
	lock, ok := s.locks[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[ownerID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	return fn(ctx, s)
}

func (s *memoryStore) GetPolicy(_ context.Context, ownerID string) (WorkingHoursPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return WorkingHoursPolicy{}, s.failWith
	}

	policy, ok := s.policies[ownerID]
	if !ok {
		return DefaultPolicy(), nil
	}

	return policy, nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.events)
}

type recordingPublisher struct {
	mu      sync.Mutex
	actions []EventAction
	err     error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, action EventAction, _ Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.actions = append(p.actions, action)

	return p.err
}

func (p *recordingPublisher) published() []EventAction {
	p.mu.Lock()
	defer p.mu.Unlock()

	return slices.Clone(p.actions)
}

// utcPolicy is the default working week expressed in UTC, which keeps the
// expected slots in tests readable.
func utcPolicy() WorkingHoursPolicy {
	policy := DefaultPolicy()
	policy.TimeZone = "UTC"

	return policy
}

// monday is 2026-03-02, a Monday, at the given UTC wall clock.
func monday(hour int, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func testEvent(owner string, title string, start time.Time, end time.Time) Event {
	return Event{OwnerId: owner, Title: title, StartTime: start, EndTime: end, Kind: KindMeeting, Status: StatusScheduled}
}
