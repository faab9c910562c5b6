package extension

import (
	"log/slog"

	"github.com/xraph/tether"
	"github.com/xraph/tether/store"
)

// ExtOption configures the Tether Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) {
		e.tetherOpts = append(e.tetherOpts, tether.WithStore(s))
	}
}

// WithCache sets the check result cache.
func WithCache(c tether.Cache) ExtOption {
	return func(e *Extension) {
		e.tetherOpts = append(e.tetherOpts, tether.WithCache(c))
	}
}

// WithConfig sets the extension configuration.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithEngineOptions adds engine-level options.
func WithEngineOptions(opts ...tether.Option) ExtOption {
	return func(e *Extension) {
		e.tetherOpts = append(e.tetherOpts, opts...)
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = l
	}
}

// WithDisableRoutes disables the registration of HTTP routes.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) {
		e.config.DisableRoutes = true
	}
}

// WithDisableMigrate disables auto-migration on start.
func WithDisableMigrate() ExtOption {
	return func(e *Extension) {
		e.config.DisableMigrate = true
	}
}
