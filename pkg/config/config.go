package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"agent-calendar/core"
)

type Config struct {
	Env string `mapstructure:"APP_ENV"`

	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`
	DBMigrate  bool   `mapstructure:"DB_MIGRATE"`

	HTTPHost  string `mapstructure:"HTTP_HOST"`
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	DebugPort string `mapstructure:"DEBUG_PORT"`

	NatsURL   string `mapstructure:"NATS_URL"`
	NatsToken string `mapstructure:"NATS_TOKEN"`
	NatsQueue string `mapstructure:"NATS_QUEUE"`

	OpenAIAPIKey string `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel  string `mapstructure:"OPENAI_MODEL"`
	OpenAIURL    string `mapstructure:"OPENAI_URL"`

	OtelEnabled  bool   `mapstructure:"OTEL_ENABLED"`
	OtelEndpoint string `mapstructure:"OTEL_ENDPOINT"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	TimeZone               string        `mapstructure:"TIMEZONE"`
	LowConfidenceThreshold float64       `mapstructure:"LOW_CONFIDENCE_THRESHOLD"`
	PastGrace              time.Duration `mapstructure:"PAST_GRACE"`
	StoreTimeout           time.Duration `mapstructure:"STORE_TIMEOUT"`
	SlotBaseConfidence     float64       `mapstructure:"SLOT_BASE_CONFIDENCE"`
	SlotDecay              float64       `mapstructure:"SLOT_DECAY"`
	SlotFloor              float64       `mapstructure:"SLOT_FLOOR"`
	SlotProximity          time.Duration `mapstructure:"SLOT_PROXIMITY"`
	SuggestMaxResults      int           `mapstructure:"SUGGEST_MAX_RESULTS"`
}

var defaults = map[string]any{
	"APP_ENV": "local",

	"DB_HOST":     "localhost",
	"DB_PORT":     "5432",
	"DB_USER":     "postgres",
	"DB_PASSWORD": "postgres",
	"DB_NAME":     "calendar",
	"DB_SSLMODE":  "disable",
	"DB_MIGRATE":  true,

	"HTTP_HOST":  "0.0.0.0",
	"HTTP_PORT":  "8080",
	"DEBUG_PORT": "6060",

	"NATS_URL":   "",
	"NATS_TOKEN": "",
	"NATS_QUEUE": "agent-calendar",

	"OPENAI_API_KEY": "",
	"OPENAI_MODEL":   "gpt-4o-mini",
	"OPENAI_URL":     "https://api.openai.com/v1",

	"OTEL_ENABLED":  false,
	"OTEL_ENDPOINT": "localhost:4317",

	"LOG_LEVEL":  "info",
	"LOG_FORMAT": "json",

	"TIMEZONE":                 "Europe/Moscow",
	"LOW_CONFIDENCE_THRESHOLD": 0.5,
	"PAST_GRACE":               "0s",
	"STORE_TIMEOUT":            "5s",
	"SLOT_BASE_CONFIDENCE":     0.9,
	"SLOT_DECAY":               0.05,
	"SLOT_FLOOR":               0.3,
	"SLOT_PROXIMITY":           "2h",
	"SUGGEST_MAX_RESULTS":      5,
}

// Load reads the configuration from the environment on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config

	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	if cfg.LowConfidenceThreshold < 0 || cfg.LowConfidenceThreshold > 1 {
		return nil, fmt.Errorf("LOW_CONFIDENCE_THRESHOLD must be within [0, 1], got %v", cfg.LowConfidenceThreshold)
	}

	_, err = time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.TimeZone, err)
	}

	return &cfg, nil
}

func (c *Config) DatabaseURL() string {
	//nolint:nosprintfhostport
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}

	return loc
}

func (c *Config) SchedulingOptions() core.SchedulingOptions {
	options := core.DefaultSchedulingOptions()
	options.LowConfidenceThreshold = c.LowConfidenceThreshold
	options.PastGrace = c.PastGrace
	options.StoreTimeout = c.StoreTimeout
	options.MaxSuggestions = c.SuggestMaxResults
	options.Availability = core.AvailabilityConfig{
		BaseConfidence: c.SlotBaseConfidence,
		Decay:          c.SlotDecay,
		Floor:          c.SlotFloor,
		Proximity:      c.SlotProximity,
	}

	return options
}
