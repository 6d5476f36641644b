package config

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger configures the global zerolog logger and returns ctx carrying it.
// Contexts without a logger, such as the ones lifecycle hands to servers,
// fall back to the same logger.
func Logger(ctx context.Context, cfg *Config, name string, version string) context.Context {
	return loggerTo(ctx, os.Stdout, cfg, name, version)
}

func loggerTo(ctx context.Context, out io.Writer, cfg *Config, name string, version string) context.Context {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	log.Logger = zerolog.New(out).With().
		Timestamp().
		Str("service", name).
		Str("version", version).
		Str("env", cfg.Env).
		Logger()
	zerolog.DefaultContextLogger = &log.Logger

	return log.Logger.WithContext(ctx)
}
