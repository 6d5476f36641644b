package resources

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func TracerMiddleware(name string) gin.HandlerFunc {
	return otelgin.Middleware(name)
}

func MeterMiddleware(name string) gin.HandlerFunc {
	return NewHTTPMetrics(name).Middleware()
}

type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func NewHTTPMetrics(name string) *HTTPMetrics {
	meter := otel.Meter(name)

	requests, _ := meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("HTTP requests served"),
	)
	duration, _ := meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
	)

	return &HTTPMetrics{requests: requests, duration: duration}
}

func (m *HTTPMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		status := c.Writer.Status()
		attrs := metric.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("http.method", c.Request.Method),
			attribute.Int("http.status_code", status),
			attribute.String("http.status_class", strconv.Itoa(status/100)+"xx"),
		)

		m.requests.Add(c.Request.Context(), 1, attrs)
		m.duration.Record(c.Request.Context(), float64(time.Since(start).Microseconds())/1000, attrs)
	}
}

// MessageMetrics counts messages handled by the NATS subscribers.
type MessageMetrics struct {
	messages metric.Int64Counter
	duration metric.Float64Histogram
}

func NewMessageMetrics(name string) *MessageMetrics {
	meter := otel.Meter(name)

	messages, _ := meter.Int64Counter(
		"messaging.process.messages",
		metric.WithDescription("Messages processed by subject and outcome"),
	)
	duration, _ := meter.Float64Histogram(
		"messaging.process.duration",
		metric.WithDescription("Message processing duration"),
		metric.WithUnit("ms"),
	)

	return &MessageMetrics{messages: messages, duration: duration}
}

func (m *MessageMetrics) Observe(ctx context.Context, subject string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}

	attrs := metric.WithAttributes(
		attribute.String("messaging.destination.name", subject),
		attribute.String("outcome", outcome),
	)

	m.messages.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
}
