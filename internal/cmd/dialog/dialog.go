// Package dialog parses dialog command flags and starts the service runtime.
package dialog

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	entrypoint "github.com/louisbranch/dialog/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/dialog/internal/platform/grpc"
	"github.com/louisbranch/dialog/internal/platform/logging"
	"github.com/louisbranch/dialog/internal/platform/timeouts"
	"github.com/louisbranch/dialog/internal/services/dialog/app"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/engine"
)

// Config holds dialog command configuration.
type Config struct {
	HTTPAddr   string `env:"DIALOG_HTTP_ADDR" envDefault:":8080"`
	HealthAddr string `env:"DIALOG_HEALTH_ADDR" envDefault:":8081"`

	EventStore        string `env:"DIALOG_EVENT_STORE" envDefault:"sqlite"`
	ProjectionStore   string `env:"DIALOG_PROJECTION_STORE" envDefault:"sqlite"`
	EventsDBPath      string `env:"DIALOG_EVENTS_DB_PATH" envDefault:"data/events.db"`
	ProjectionsDBPath string `env:"DIALOG_PROJECTIONS_DB_PATH" envDefault:"data/projections.db"`
	BadgerDir         string `env:"DIALOG_BADGER_DIR" envDefault:"data/badger"`

	RedisAddr          string `env:"DIALOG_REDIS_ADDR"`
	RedisChannelPrefix string `env:"DIALOG_REDIS_CHANNEL_PREFIX" envDefault:"dialog"`

	RequireAgent    bool `env:"DIALOG_REQUIRE_AGENT" envDefault:"false"`
	MaxParticipants int  `env:"DIALOG_MAX_PARTICIPANTS" envDefault:"0"`

	RetryMaxAttempts     int           `env:"DIALOG_RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RetryInitialInterval time.Duration `env:"DIALOG_RETRY_INITIAL_INTERVAL" envDefault:"10ms"`
	RetryMaxInterval     time.Duration `env:"DIALOG_RETRY_MAX_INTERVAL" envDefault:"250ms"`

	LogLevel string `env:"DIALOG_LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"DIALOG_LOG_FILE"`

	// HealthCheck checks a running server's health endpoint and exits.
	HealthCheck bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The HTTP API listen address")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "The gRPC health listen address (empty disables it)")
	fs.StringVar(&cfg.EventStore, "event-store", cfg.EventStore, "Event log engine: memory, sqlite or badger")
	fs.StringVar(&cfg.ProjectionStore, "projection-store", cfg.ProjectionStore, "Projection engine: memory or sqlite")
	fs.StringVar(&cfg.EventsDBPath, "events-db", cfg.EventsDBPath, "SQLite event log path")
	fs.StringVar(&cfg.ProjectionsDBPath, "projections-db", cfg.ProjectionsDBPath, "SQLite projection path")
	fs.StringVar(&cfg.BadgerDir, "badger-dir", cfg.BadgerDir, "Badger event log directory")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for event publishing (empty disables it)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "Check the health endpoint and exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AppConfig converts command configuration into runtime configuration.
func (c Config) AppConfig(logger *slog.Logger) app.Config {
	policy := conversation.DefaultPolicy()
	policy.RequireAgent = c.RequireAgent
	policy.MaxParticipants = c.MaxParticipants
	return app.Config{
		HTTPAddr:           c.HTTPAddr,
		HealthAddr:         c.HealthAddr,
		EventStore:         c.EventStore,
		ProjectionStore:    c.ProjectionStore,
		EventsDBPath:       c.EventsDBPath,
		ProjectionsDBPath:  c.ProjectionsDBPath,
		BadgerDir:          c.BadgerDir,
		RedisAddr:          c.RedisAddr,
		RedisChannelPrefix: c.RedisChannelPrefix,
		Policy:             policy,
		Retry: engine.RetryPolicy{
			MaxAttempts:     c.RetryMaxAttempts,
			InitialInterval: c.RetryInitialInterval,
			MaxInterval:     c.RetryMaxInterval,
		},
		Logger: logger,
	}
}

// Run starts the dialog service, or checks a running one when cfg.HealthCheck is set.
func Run(ctx context.Context, cfg Config) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, closeLog := logging.Setup(cfg.LogFile, level)
	defer func() { _ = closeLog() }()

	if cfg.HealthCheck {
		return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceCheck, entrypoint.RunOptions{Logger: logger}, func(ctx context.Context) error {
			return CheckHealth(ctx, cfg.HealthAddr, logger)
		})
	}
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceDialog, entrypoint.RunOptions{Logger: logger}, func(ctx context.Context) error {
		return app.Run(ctx, cfg.AppConfig(logger))
	})
}

// CheckHealth waits for addr to report the dialog service as SERVING.
func CheckHealth(ctx context.Context, addr string, logger *slog.Logger) error {
	if addr == "" {
		return fmt.Errorf("health address is required")
	}
	conn, err := platformgrpc.Dial(addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(ctx, timeouts.GRPCDial)
	defer cancel()
	return platformgrpc.WaitForHealth(ctx, conn, app.HealthService, logger)
}
