package core

import "context"

// EventReader is the read side of the event storage boundary.
type EventReader interface {
	// ListEvents returns the owner's events whose range intersects r, ordered by start time.
	ListEvents(ctx context.Context, ownerID string, r TimeRange) ([]Event, error)
	GetEvent(ctx context.Context, ownerID string, id string) (*Event, error)
}

type EventWriter interface {
	Insert(ctx context.Context, event *Event) (*Event, error)
	Update(ctx context.Context, event *Event) (*Event, error)
	Delete(ctx context.Context, ownerID string, id string) error
}

// EventStore is the persistence boundary of the scheduling engine.
//
// WithinOwnerTx must run fn inside a single transaction that is exclusive
// per owner: two concurrent calls for the same owner may not both
// pass a conflict check and commit overlapping events.
type EventStore interface {
	EventReader
	EventWriter
	WithinOwnerTx(ctx context.Context, ownerID string, fn func(ctx context.Context, tx EventStore) error) error
}

type PolicyProvider interface {
	GetPolicy(ctx context.Context, ownerID string) (WorkingHoursPolicy, error)
}

type EventAction string

const (
	EventCreated EventAction = "created"
	EventUpdated EventAction = "updated"
	EventDeleted EventAction = "deleted"
)

// EventPublisher announces committed changes. Delivery failures never undo a write.
type EventPublisher interface {
	PublishEvent(ctx context.Context, action EventAction, event Event) error
}
