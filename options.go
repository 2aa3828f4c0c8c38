package hushbox

import (
	"log/slog"
	"time"

	"github.com/LOME-AI/hushbox/internal/store"
)

// serviceConfig holds configuration for the service.
type serviceConfig struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the service.
type Option func(*serviceConfig)

// WithStore sets the backing store. The default is an in-memory store.
func WithStore(s store.Store) Option {
	return func(c *serviceConfig) {
		c.store = s
	}
}

// WithMemoryStore selects the in-memory store explicitly.
func WithMemoryStore() Option {
	return func(c *serviceConfig) {
		c.store = store.NewMem()
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) {
		c.logger = logger
	}
}

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *serviceConfig) {
		c.now = now
	}
}
