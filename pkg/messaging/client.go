package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	SubjectEventPrefix     = "calendar.event."
	SubjectIngestRequested = "calendar.ingest.requested"
)

// Handler processes one message. A non-nil result is sent back when the
// sender asked for a reply.
type Handler func(ctx context.Context, subject string, data []byte) (any, error)

type Client struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

func NewClient(ctx context.Context, url string, token string, name string) (*Client, error) {
	logger := log.Ctx(ctx).With().Str("component", "nats").Logger()

	opts := []nats.Option{
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc}, nil
}

// Publish sends data as JSON, carrying the trace context in the message headers.
func (c *Client) Publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = payload
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	err = c.conn.PublishMsg(msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	return nil
}

// Subscribe registers handler on subject. A non-empty queue load-balances
// messages across the instances of the service.
func (c *Client) Subscribe(ctx context.Context, subject string, queue string, handler Handler) error {
	logger := log.Ctx(ctx).With().Str("component", "nats").Str("subject", subject).Logger()

	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))

		result, err := handler(msgCtx, msg.Subject, msg.Data)
		if err != nil {
			logger.Error().Err(err).Msg("message handling failed")
		}

		if msg.Reply == "" || result == nil {
			return
		}

		payload, err := json.Marshal(result)
		if err != nil {
			logger.Error().Err(err).Msg("failed to marshal reply")
			return
		}

		err = msg.Respond(payload)
		if err != nil {
			logger.Error().Err(err).Msg("failed to send reply")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	c.subs = append(c.subs, sub)
	logger.Info().Str("queue", queue).Msg("subscribed")

	return nil
}

// Drain lets in-flight messages finish before the subscriptions go away.
func (c *Client) Drain() error {
	for _, sub := range c.subs {
		_ = sub.Drain()
	}

	c.subs = nil

	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}

	c.conn.Close()
}
