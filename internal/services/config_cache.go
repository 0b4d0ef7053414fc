package services

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/campuspulse/console/internal/models"
)

// ConfigSource hands out the latest known configuration. Values may be
// slightly stale.
type ConfigSource interface {
	Current() models.Configuration
}

// ConfigCache is the process-wide configuration snapshot, refreshed by a
// store subscription. It starts out holding the defaults.
type ConfigCache struct {
	svc    *ConfigurationService
	logger *zap.Logger

	mu   sync.RWMutex
	cfg  models.Configuration
	stop func()
}

func NewConfigCache(svc *ConfigurationService, logger *zap.Logger) *ConfigCache {
	return &ConfigCache{
		svc:    svc,
		logger: logger,
		cfg:    models.DefaultConfiguration(),
	}
}

func (c *ConfigCache) Current() models.Configuration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Set replaces the snapshot, e.g. right after a local update.
func (c *ConfigCache) Set(cfg models.Configuration) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// Start loads the configuration (creating it if needed) and subscribes to
// further changes. A failed subscription leaves the loaded value in place.
func (c *ConfigCache) Start(ctx context.Context) error {
	cfg, err := c.svc.Get(ctx)
	if err != nil {
		return err
	}
	c.Set(*cfg)

	stop, err := c.svc.Watch(ctx,
		func(cfg *models.Configuration) {
			c.Set(*cfg)
			c.logger.Debug("configuration refreshed", zap.Time("last_updated", cfg.LastUpdated))
		},
		func(err error) {
			c.logger.Warn("configuration subscription error", zap.Error(err))
		},
	)
	if err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.stop
	c.stop = stop
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}

func (c *ConfigCache) Stop() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}
