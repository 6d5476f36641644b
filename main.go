package main

import (
	"context"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qmdx00/lifecycle"
	"github.com/rs/zerolog/log"

	"agent-calendar/core"
	"agent-calendar/pkg/config"
	"agent-calendar/pkg/extraction"
	"agent-calendar/pkg/messaging"
	"agent-calendar/pkg/resources"
	"agent-calendar/pkg/servers"
)

func main() {
	name, version := "agent-calendar", "1.0"

	// 1. Config and logger
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load configuration")
	}

	ctx := config.Logger(context.Background(), cfg, name, version)
	startupLogger := log.Ctx(ctx).With().Str("stage", "startup").Str("component", "main").Logger()
	shutdownLogger := log.Ctx(ctx).With().Str("stage", "shut down").Str("component", "main").Logger()

	startupLogger.Info().Msg("application starting up")
	defer shutdownLogger.Info().Msg("application stopped")

	hookFn := func(ctx context.Context) (context.Context, error) {
		log.Logger = log.Logger.Hook(resources.NewLogBridge(name, version))
		return log.Logger.WithContext(ctx), nil
	}

	// 2. Telemetry (traces/metrics/logs), zerolog still prints to stdout
	ctx, stopFn, err := resources.Observe(ctx, name, version, cfg.Env, cfg.OtelEndpoint, cfg.OtelEnabled, hookFn)
	if err != nil {
		shutdownLogger.Fatal().Err(err).Msg("unable to setup otel telemetry")
	}
	defer stopFn(ctx, 15*time.Second)

	// 3. Storage
	pool, stopFn, err := resources.CreateDatabaseConnectionPool(ctx, cfg.DatabaseURL())
	if err != nil {
		shutdownLogger.Fatal().Err(err).Msg("unable to create database connection pool")
	}
	defer stopFn(ctx, 15*time.Second)

	if cfg.DBMigrate {
		err = core.EnsureSchema(ctx, pool)
		if err != nil {
			shutdownLogger.Fatal().Err(err).Msg("unable to apply database schema")
		}
	}

	repo := core.NewRepository(pool)

	// 4. Messaging, optional
	var (
		natsClient *messaging.Client
		publisher  core.EventPublisher
	)

	if cfg.NatsURL != "" {
		natsClient, err = messaging.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, name)
		if err != nil {
			shutdownLogger.Fatal().Err(err).Msg("unable to connect to nats")
		}

		publisher = messaging.NewEventPublisher(natsClient)
	}

	// 5. Wiring
	scheduler := core.NewScheduler(repo, repo, publisher, cfg.SchedulingOptions())
	handlers := core.NewHandlers(scheduler, repo, pool.Ping)

	// 6. Servers
	gin.SetMode(gin.ReleaseMode)

	restHandler := gin.New()
	restHandler.Use(gin.Recovery())
	restHandler.Use(resources.TracerMiddleware(name))
	restHandler.Use(resources.MeterMiddleware(name))

	restHandler.GET("/health", handlers.GetHealth)
	restHandler.POST("/events", handlers.PostEvents)
	restHandler.POST("/events/bulk", handlers.PostEventsBulk)
	restHandler.GET("/events/conflicts", handlers.GetConflicts)
	restHandler.GET("/events", handlers.GetEvents)
	restHandler.GET("/events/export.ics", handlers.GetExport)
	restHandler.GET("/events/:id", handlers.GetEvent)
	restHandler.PATCH("/events/:id", handlers.PatchEvent)
	restHandler.DELETE("/events/:id", handlers.DeleteEvent)
	restHandler.POST("/suggestions", handlers.PostSuggestions)
	restHandler.POST("/ingest", handlers.PostIngest)
	restHandler.GET("/settings", handlers.GetSettings)
	restHandler.PUT("/settings", handlers.PutSettings)

	debugHandler := http.NewServeMux()
	debugHandler.HandleFunc("/debug/pprof/", pprof.Index)
	debugHandler.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	debugHandler.HandleFunc("/debug/pprof/profile", pprof.Profile)
	debugHandler.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	debugHandler.HandleFunc("/debug/pprof/trace", pprof.Trace)

	app := lifecycle.NewApp(
		lifecycle.WithName(name),
		lifecycle.WithVersion(version),
	)

	closables := []resources.Closable{}
	if natsClient != nil {
		closables = append(closables, natsClient)
	}

	app.Attach(servers.BuildBaseServer(closables...))
	app.Attach(servers.BuildHttpServer("debug", &http.Server{
		Addr:              net.JoinHostPort("localhost", cfg.DebugPort),
		Handler:           debugHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}))
	app.Attach(servers.BuildHttpServer("rest", &http.Server{
		Addr:              net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort),
		Handler:           restHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}))

	if natsClient != nil {
		var model extraction.Extractor
		if cfg.OpenAIAPIKey != "" {
			model = extraction.NewGPTClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIURL, cfg.Location())
		}

		pipeline := extraction.NewPipeline(model, extraction.NewParser(cfg.Location(), time.Now))
		ingest := messaging.NewIngestHandler(scheduler, pipeline)
		app.Attach(servers.BuildNatsServer(natsClient, messaging.SubjectIngestRequested, cfg.NatsQueue, ingest.Handle))
	}

	startupLogger.Info().Msg("application running")

	// 7. Block until a signal or a server failure
	err = app.Run()
	if err != nil {
		shutdownLogger.Error().Err(err).Msg("runtime error")
	}
}
