package cache

import (
	"context"
	"log/slog"
)

// Persister is the slice of storage.Store the core needs.
type Persister interface {
	Load(ctx context.Context) *CacheData
	Save(value *CacheData)
}

// Core owns the one CacheData instance. Sub-caches mutate Data() in place and
// must call CacheUpdated afterwards; that call is the only path to disk.
type Core struct {
	data      *CacheData
	persister Persister
	logger    *slog.Logger
}

// NewCore hydrates the data from persister. A nil persister keeps the cache
// in memory only.
func NewCore(ctx context.Context, persister Persister, logger *slog.Logger) *Core {
	c := &Core{
		persister: persister,
		logger:    logger.With("component", "CacheCore"),
	}
	if persister != nil {
		c.data = persister.Load(ctx)
	}
	if c.data == nil {
		c.data = NewCacheData()
	} else {
		c.data.normalize()
		c.logger.Debug("Cache hydrated",
			"has_listing", c.data.Listing != nil,
			"tracking_events", len(c.data.TrackingEvents),
			"offers", len(c.data.Offers),
		)
	}
	return c
}

func (c *Core) Data() *CacheData {
	return c.data
}

// CacheUpdated hands the current data to the persister for its next write.
func (c *Core) CacheUpdated() {
	if c.persister == nil {
		return
	}
	c.persister.Save(c.data)
}

// ClearCache replaces the data with an empty instance and marks it dirty.
func (c *Core) ClearCache() {
	c.data = NewCacheData()
	c.logger.Info("Cache cleared")
	c.CacheUpdated()
}
