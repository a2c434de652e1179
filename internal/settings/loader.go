package settings

import (
	"context"

	"go.uber.org/zap"
)

// Store returns the raw messaging_settings document, or nil when none is stored.
type Store interface {
	MessagingSettings(ctx context.Context) ([]byte, error)
}

// Loader reads the settings document once per request or sweep.
type Loader struct {
	store  Store
	logger *zap.Logger
}

func NewLoader(store Store, logger *zap.Logger) *Loader {
	return &Loader{store: store, logger: logger}
}

// Load never fails: read or decode problems are logged and Defaults is returned.
func (l *Loader) Load(ctx context.Context) Messaging {
	if l == nil || l.store == nil {
		return Defaults()
	}

	raw, err := l.store.MessagingSettings(ctx)
	if err != nil {
		l.logger.Warn("messaging settings unavailable, using defaults", zap.Error(err))
		return Defaults()
	}
	if raw == nil {
		l.logger.Debug("no messaging settings stored, using defaults")
		return Defaults()
	}

	m, err := Parse(raw)
	if err != nil {
		l.logger.Warn("invalid messaging settings, using defaults", zap.Error(err))
		return m
	}

	if m.Version > CurrentVersion {
		l.logger.Warn("messaging settings written by a newer version",
			zap.Int("version", m.Version),
			zap.Int("supported", CurrentVersion),
		)
	}

	return m
}
