package resources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// HookFn installs the log bridge once the logger provider is in place.
type HookFn func(ctx context.Context) (context.Context, error)

// Observe sets up traces, metrics and logs exported over OTLP/gRPC to
// endpoint. The propagator is always installed so that trace context flows
// through NATS headers even when export is disabled.
func Observe(ctx context.Context, name string, version string, env string, endpoint string, enabled bool, hookFn HookFn) (context.Context, StopFn, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !enabled {
		return ctx, func(context.Context, time.Duration) {}, nil
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", name),
		attribute.String("service.version", version),
		attribute.String("deployment.environment", env),
	)

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to create the OTLP trace exporter: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to create the OTLP metric exporter: %w", err)
	}

	logExporter, err := otlploggrpc.New(ctx, otlploggrpc.WithEndpoint(endpoint), otlploggrpc.WithInsecure())
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to create the OTLP log exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter), sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)), sdkmetric.WithResource(res))
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)), sdklog.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)

	err = runtime.Start(runtime.WithMeterProvider(mp))
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	if hookFn != nil {
		ctx, err = hookFn(ctx)
		if err != nil {
			return ctx, nil, fmt.Errorf("failed to install log hook: %w", err)
		}
	}

	stopFn := func(ctx context.Context, timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		err := errors.Join(tp.Shutdown(shutdownCtx), mp.Shutdown(shutdownCtx), lp.Shutdown(shutdownCtx))
		if err != nil {
			log.Ctx(ctx).Error().Str("stage", "shut down").Str("component", "telemetry").Err(err).Msg("failed to flush telemetry")
		}
	}

	return ctx, stopFn, nil
}

func CreateDatabaseConnectionPool(ctx context.Context, dsn string) (*pgxpool.Pool, StopFn, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to parse database connection string")
		return nil, nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}

	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to connect to database")
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		log.Ctx(ctx).Error().Err(err).Msg("unable to ping database")

		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	err = otelpgx.RecordStats(pool)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("unable to record database pool stats")
	}

	stopFn := func(ctx context.Context, _ time.Duration) {
		log.Ctx(ctx).Info().Str("stage", "shut down").Str("component", "database").Msg("closing connection pool")
		pool.Close()
	}

	return pool, stopFn, nil
}
