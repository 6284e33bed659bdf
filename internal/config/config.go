package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/sandeepkv93/secure-session-store/internal/domain"
)

const (
	ModeSystem = "system"
	ModeApp    = "app"

	IndexBackendRedis  = "redis"
	IndexBackendMemory = "memory"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Env string `env:"APP_ENV" envDefault:"development"`

	HTTPAddr                     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout              time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	ShutdownHTTPDrainTimeout     time.Duration `env:"SHUTDOWN_HTTP_DRAIN_TIMEOUT" envDefault:"10s"`
	ShutdownObservabilityTimeout time.Duration `env:"SHUTDOWN_OBSERVABILITY_TIMEOUT" envDefault:"5s"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"file:sessionstore.db?cache=shared"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"sid_index"`

	SIDLength    int           `env:"SESSION_SID_LENGTH" envDefault:"10"`
	SIDTimestamp bool          `env:"SESSION_SID_TIMESTAMP" envDefault:"false"`
	TimeToLive   time.Duration `env:"SESSION_TIME_TO_LIVE" envDefault:"0s"`
	TTLType      string        `env:"SESSION_TTL_TYPE" envDefault:"created"`
	Mode         string        `env:"SESSION_MODE" envDefault:"app"`
	IndexBackend string        `env:"IDENTITY_INDEX_BACKEND" envDefault:"redis"`

	MissingSessionCacheTTL time.Duration `env:"SESSION_MISSING_CACHE_TTL" envDefault:"30s"`

	JWTIssuer   string        `env:"JWT_ISSUER" envDefault:"secure-session-store"`
	JWTAudience string        `env:"JWT_AUDIENCE" envDefault:"secure-session-store-api"`
	JWTSecret   string        `env:"JWT_SECRET"`
	JWTTTL      time.Duration `env:"JWT_TTL" envDefault:"15m"`

	CreateRateLimitRPM int `env:"SESSION_CREATE_RATE_LIMIT_RPM" envDefault:"120"`

	OTELServiceName           string        `env:"OTEL_SERVICE_NAME" envDefault:"secure-session-store"`
	OTELEnvironment           string        `env:"OTEL_ENVIRONMENT" envDefault:"development"`
	OTELExporterOTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELMetricsEnabled        bool          `env:"OTEL_METRICS_ENABLED" envDefault:"false"`
	OTELTracingEnabled        bool          `env:"OTEL_TRACING_ENABLED" envDefault:"false"`
	OTELLogsEnabled           bool          `env:"OTEL_LOGS_ENABLED" envDefault:"false"`
	OTELMetricsExportInterval time.Duration `env:"OTEL_METRICS_EXPORT_INTERVAL" envDefault:"15s"`
	OTELTraceSamplingRatio    float64       `env:"OTEL_TRACE_SAMPLING_RATIO" envDefault:"1"`
	OTELHTTPEnabled           bool          `env:"OTEL_HTTP_ENABLED" envDefault:"false"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a validated Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		err = fmt.Errorf("parse env: %w", err)
		recordConfigLoad(context.Background(), "", "", err)
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("validate config: %w", err)
		recordConfigLoad(context.Background(), cfg.Env, cfg.Mode, err)
		return nil, err
	}
	recordConfigLoad(context.Background(), cfg.Env, cfg.Mode, nil)
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.IndexBackend = strings.ToLower(strings.TrimSpace(c.IndexBackend))
	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))

	if c.SIDLength < 0 {
		errs = append(errs, errors.New("SESSION_SID_LENGTH must not be negative"))
	}
	if c.TimeToLive < 0 {
		errs = append(errs, errors.New("SESSION_TIME_TO_LIVE must not be negative"))
	}
	if c.MissingSessionCacheTTL < 0 {
		errs = append(errs, errors.New("SESSION_MISSING_CACHE_TTL must not be negative"))
	}
	if !domain.KnownTTLType(c.TTLType) {
		errs = append(errs, fmt.Errorf("SESSION_TTL_TYPE %q is not a session timestamp", c.TTLType))
	}
	switch c.Mode {
	case ModeSystem, ModeApp:
	default:
		errs = append(errs, fmt.Errorf("SESSION_MODE must be %q or %q", ModeSystem, ModeApp))
	}
	switch c.IndexBackend {
	case IndexBackendRedis, IndexBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("IDENTITY_INDEX_BACKEND must be %q or %q", IndexBackendRedis, IndexBackendMemory))
	}
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be %q or %q", DriverSQLite, DriverPostgres))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACE_SAMPLING_RATIO must be within [0,1]"))
	}
	return errors.Join(errs...)
}

// Privileged reports whether this deployment maintains the global identity index.
func (c *Config) Privileged() bool { return c.Mode == ModeSystem }

func (c *Config) TTLPolicy() domain.TTLPolicy {
	return domain.TTLPolicy{TimeToLive: c.TimeToLive, Type: c.TTLType}
}
