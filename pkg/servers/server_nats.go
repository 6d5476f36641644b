package servers

import (
	"context"
	"time"

	"github.com/qmdx00/lifecycle"
	"github.com/rs/zerolog/log"

	"agent-calendar/pkg/messaging"
	"agent-calendar/pkg/resources"
)

// Subscriber is the part of messaging.Client the subscriber server drives.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, queue string, handler messaging.Handler) error
	Drain() error
}

var _ Subscriber = (*messaging.Client)(nil)

type natsServer struct {
	name       string
	subscriber Subscriber
	subject    string
	queue      string
	handler    messaging.Handler
	metrics    *resources.MessageMetrics
	done       chan struct{}
}

func BuildNatsServer(subscriber Subscriber, subject string, queue string, handler messaging.Handler) (string, Server) {
	return "nats-server", NewNatsServer(subscriber, subject, queue, handler)
}

func NewNatsServer(subscriber Subscriber, subject string, queue string, handler messaging.Handler) lifecycle.Server {
	return &natsServer{
		name:       "nats-server",
		subscriber: subscriber,
		subject:    subject,
		queue:      queue,
		handler:    handler,
		metrics:    resources.NewMessageMetrics("agent-calendar/messaging"),
		done:       make(chan struct{}),
	}
}

func (server *natsServer) Run(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "startup").Str("component", server.name).Str("subject", server.subject).Msg("starting up")

	err := server.subscriber.Subscribe(ctx, server.subject, server.queue, server.observed)
	if err != nil {
		log.Ctx(ctx).Error().Str("stage", "startup").Str("component", server.name).Err(err).Msg("failed to subscribe")
		return ErrServerFailedToStart(server.name, err)
	}

	select {
	case <-server.done:
	case <-ctx.Done():
	}

	return nil
}

func (server *natsServer) Stop(ctx context.Context) error {
	log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", server.name).Msg("stopping")
	defer log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", server.name).Msg("stopped")

	defer close(server.done)

	err := server.subscriber.Drain()
	if err != nil {
		log.Ctx(ctx).Error().Str("stage", "shut down").Str("component", server.name).Err(err).Msg("failed to stop")
		return ErrServerFailedToStop(server.name, err)
	}

	return nil
}

func (server *natsServer) observed(ctx context.Context, subject string, data []byte) (any, error) {
	start := time.Now()

	result, err := server.handler(ctx, subject, data)
	server.metrics.Observe(ctx, subject, start, err)

	return result, err
}
