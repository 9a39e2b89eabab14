package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/engine"
)

// Storage engines.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

// HealthService is the service name reported on the health endpoint.
const HealthService = "dialog.v1.ConversationService"

var validate = validator.New()

// Config describes one dialog runtime.
type Config struct {
	// HTTPAddr is the API listen address.
	HTTPAddr string `validate:"required"`
	// HealthAddr is the gRPC health listen address; empty disables it.
	HealthAddr string

	EventStore        string `validate:"oneof=memory sqlite badger"`
	ProjectionStore   string `validate:"oneof=memory sqlite"`
	EventsDBPath      string `validate:"required_if=EventStore sqlite"`
	ProjectionsDBPath string `validate:"required_if=ProjectionStore sqlite"`
	BadgerDir         string `validate:"required_if=EventStore badger"`

	// RedisAddr enables publishing to Redis when set.
	RedisAddr          string
	RedisChannelPrefix string

	Policy conversation.Policy
	Retry  engine.RetryPolicy

	Logger *slog.Logger `validate:"-"`
}

// Validate normalizes store names and checks the configuration.
func (c *Config) Validate() error {
	c.EventStore = strings.ToLower(strings.TrimSpace(c.EventStore))
	c.ProjectionStore = strings.ToLower(strings.TrimSpace(c.ProjectionStore))
	if c.EventStore == "" {
		c.EventStore = StoreMemory
	}
	if c.ProjectionStore == "" {
		c.ProjectionStore = StoreMemory
	}
	if c.Policy.MaxParticipants < 0 {
		return fmt.Errorf("max participants must not be negative")
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
