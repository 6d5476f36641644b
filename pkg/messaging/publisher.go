package messaging

import (
	"context"
	"time"

	"agent-calendar/core"
)

var _ core.EventPublisher = (*EventPublisher)(nil)

type Publisher interface {
	Publish(ctx context.Context, subject string, data any) error
}

// EventNotification is the body sent on calendar.event.<action>.
type EventNotification struct {
	Action     core.EventAction `json:"action"`
	Event      core.Event       `json:"event"`
	OccurredAt time.Time        `json:"occurred_at"`
}

type EventPublisher struct {
	publisher Publisher
	now       func() time.Time
}

func NewEventPublisher(publisher Publisher) *EventPublisher {
	return &EventPublisher{publisher: publisher, now: time.Now}
}

func (p *EventPublisher) PublishEvent(ctx context.Context, action core.EventAction, event core.Event) error {
	return p.publisher.Publish(ctx, SubjectEventPrefix+string(action), EventNotification{
		Action:     action,
		Event:      event,
		OccurredAt: p.now().UTC(),
	})
}
