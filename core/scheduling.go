package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Scheduler interface {
	CreateEvent(ctx context.Context, candidate Event) (*Event, error)
	UpdateEvent(ctx context.Context, ownerID string, id string, patch EventPatch) (*Event, error)
	DeleteEvent(ctx context.Context, ownerID string, id string) error
	GetEvent(ctx context.Context, ownerID string, id string) (*Event, error)
	ListEvents(ctx context.Context, ownerID string, r TimeRange) ([]Event, error)
	SuggestTimes(ctx context.Context, ownerID string, durationMinutes int, horizon TimeRange, maxResults int) ([]RankedSlot, error)
	IngestAndCreate(ctx context.Context, request IngestRequest) (*IngestResult, error)
	CheckConflicts(ctx context.Context, ownerID string, r TimeRange, excludeEventID string) ([]Event, error)
}

type SchedulingOptions struct {
	// PastGrace tolerates candidates starting slightly before now.
	PastGrace              time.Duration
	LowConfidenceThreshold float64
	// StoreTimeout bounds every storage round trip. Zero disables it.
	StoreTimeout           time.Duration
	DefaultDurationMinutes int
	MaxSuggestions         int
	Availability           AvailabilityConfig
	Now                    func() time.Time
}

func DefaultSchedulingOptions() SchedulingOptions {
	return SchedulingOptions{
		PastGrace:              0,
		LowConfidenceThreshold: 0.5,
		StoreTimeout:           5 * time.Second,
		DefaultDurationMinutes: 60,
		MaxSuggestions:         5,
		Availability:           DefaultAvailabilityConfig(),
		Now:                    time.Now,
	}
}

type schedulingService struct {
	store     EventStore
	policies  PolicyProvider
	publisher EventPublisher
	options   SchedulingOptions
}

// NewScheduler wires the scheduling use cases. publisher may be nil.
func NewScheduler(store EventStore, policies PolicyProvider, publisher EventPublisher, options SchedulingOptions) Scheduler {
	if options.Now == nil {
		options.Now = time.Now
	}

	if options.DefaultDurationMinutes <= 0 {
		options.DefaultDurationMinutes = 60
	}

	return &schedulingService{
		store:     store,
		policies:  policies,
		publisher: publisher,
		options:   options,
	}
}

func (s *schedulingService) CreateEvent(ctx context.Context, candidate Event) (*Event, error) {
	if strings.TrimSpace(candidate.OwnerId) == "" {
		return nil, &ValidationError{Field: "owner_id", Reason: "owner is required"}
	}

	candidate.Title = strings.TrimSpace(candidate.Title)

	err := ValidateEvent(candidate)
	if err != nil {
		return nil, err
	}

	err = s.checkNotPast(candidate.StartTime)
	if err != nil {
		return nil, err
	}

	if candidate.Kind == "" {
		candidate.Kind = KindOther
	}

	if candidate.Source == "" {
		candidate.Source = SourceManual
	}

	candidate.Status = StatusScheduled

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	var saved *Event

	err = s.store.WithinOwnerTx(ctx, candidate.OwnerId, func(ctx context.Context, tx EventStore) error {
		found, conflicting, err := NewConflictDetector(tx).HasConflict(ctx, candidate.OwnerId, candidate.Range(), "")
		if err != nil {
			return err
		}

		if found {
			return &ConflictError{Conflicting: conflicting}
		}

		saved, err = tx.Insert(ctx, &candidate)

		return err
	})
	if err != nil {
		log.Ctx(ctx).Info().Err(err).Str("owner_id", candidate.OwnerId).Msg("event rejected")
		return nil, storageError("create event", err)
	}

	log.Ctx(ctx).Info().Str("owner_id", saved.OwnerId).Str("event_id", saved.Id).Msg("event created")
	s.publish(ctx, EventCreated, *saved)

	return saved, nil
}

func (s *schedulingService) UpdateEvent(ctx context.Context, ownerID string, id string, patch EventPatch) (*Event, error) {
	err := ValidatePatch(patch)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	var saved *Event

	err = s.store.WithinOwnerTx(ctx, ownerID, func(ctx context.Context, tx EventStore) error {
		current, err := tx.GetEvent(ctx, ownerID, id)
		if err != nil {
			return err
		}

		updated := patch.Apply(*current)

		err = ValidateEvent(updated)
		if err != nil {
			return err
		}

		if patch.ChangesTime() {
			err = s.checkNotPast(updated.StartTime)
			if err != nil {
				return err
			}
		}

		if updated.Blocking() && (patch.ChangesTime() || patch.reactivates(*current)) {
			found, conflicting, err := NewConflictDetector(tx).HasConflict(ctx, ownerID, updated.Range(), id)
			if err != nil {
				return err
			}

			if found {
				return &ConflictError{Conflicting: conflicting}
			}
		}

		saved, err = tx.Update(ctx, &updated)

		return err
	})
	if err != nil {
		return nil, storageError("update event", err)
	}

	log.Ctx(ctx).Info().Str("owner_id", ownerID).Str("event_id", id).Msg("event updated")
	s.publish(ctx, EventUpdated, *saved)

	return saved, nil
}

func (s *schedulingService) DeleteEvent(ctx context.Context, ownerID string, id string) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	var deleted Event

	err := s.store.WithinOwnerTx(ctx, ownerID, func(ctx context.Context, tx EventStore) error {
		current, err := tx.GetEvent(ctx, ownerID, id)
		if err != nil {
			return err
		}

		deleted = *current

		return tx.Delete(ctx, ownerID, id)
	})
	if err != nil {
		return storageError("delete event", err)
	}

	log.Ctx(ctx).Info().Str("owner_id", ownerID).Str("event_id", id).Msg("event deleted")
	s.publish(ctx, EventDeleted, deleted)

	return nil
}

func (s *schedulingService) GetEvent(ctx context.Context, ownerID string, id string) (*Event, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	event, err := s.store.GetEvent(ctx, ownerID, id)
	if err != nil {
		return nil, storageError("get event", err)
	}

	return event, nil
}

func (s *schedulingService) ListEvents(ctx context.Context, ownerID string, r TimeRange) ([]Event, error) {
	if r.IsEmpty() {
		return nil, &ValidationError{Field: "range", Reason: "range must not be empty"}
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	events, err := s.store.ListEvents(ctx, ownerID, r)
	if err != nil {
		return nil, storageError("list events", err)
	}

	return events, nil
}

// CheckConflicts lists every blocking event of the owner overlapping r,
// ignoring excludeEventID. It never writes.
func (s *schedulingService) CheckConflicts(ctx context.Context, ownerID string, r TimeRange, excludeEventID string) ([]Event, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, &ValidationError{Field: "owner_id", Reason: "owner is required"}
	}

	if r.IsEmpty() {
		return nil, &ValidationError{Field: "range", Reason: "range must not be empty"}
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	_, conflicting, err := NewConflictDetector(s.store).HasConflict(ctx, ownerID, r, excludeEventID)
	if err != nil {
		return nil, storageError("check conflicts", err)
	}

	if conflicting == nil {
		conflicting = []Event{}
	}

	return conflicting, nil
}

// SuggestTimes reads the owner's working hours and ranks the free slots of
// the horizon. It never writes.
func (s *schedulingService) SuggestTimes(ctx context.Context, ownerID string, durationMinutes int, horizon TimeRange, maxResults int) ([]RankedSlot, error) {
	if maxResults <= 0 {
		maxResults = s.options.MaxSuggestions
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	policy, err := s.policies.GetPolicy(ctx, ownerID)
	if err != nil {
		return nil, storageError("get policy", err)
	}

	slots, err := NewAvailabilityFinder(s.store, s.options.Availability).Suggest(ctx, ownerID, durationMinutes, horizon, policy, maxResults)
	if err != nil {
		return nil, storageError("suggest times", err)
	}

	log.Ctx(ctx).Debug().Str("owner_id", ownerID).Int("duration_minutes", durationMinutes).Int("slots", len(slots)).Msg("slots suggested")

	return slots, nil
}

func (s *schedulingService) checkNotPast(start time.Time) error {
	if start.Before(s.options.Now().Add(-s.options.PastGrace)) {
		return &ValidationError{Field: "start_time", Reason: "start time is in the past"}
	}

	return nil
}

func (s *schedulingService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.options.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, s.options.StoreTimeout)
}

func (s *schedulingService) publish(ctx context.Context, action EventAction, event Event) {
	if s.publisher == nil {
		return
	}

	err := s.publisher.PublishEvent(ctx, action, event)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("action", string(action)).Str("event_id", event.Id).Msg(fmt.Sprintf("failed to publish event %s", action))
	}
}
