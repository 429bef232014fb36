package geooffers

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-geooffers-sdk/geooffers/config"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/storage"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/storage/cache"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/storage/file"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/storage/sqlite"
)

const (
	debugFilename    = "GeoOffersTrackingDebug.data"
	debugSnapshotKey = "tracking_debug"
	cacheSnapshotKey = "cache"
)

// Backends are the opened snapshot backends for the cache and the optional
// tracking debug mirror.
type Backends struct {
	Cache storage.Backend
	// Debug is nil when the debug mirror is disabled.
	Debug   storage.Backend
	closers []func() error
}

// Close releases database and Redis connections.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// OpenBackends builds the configured backend. When Redis is enabled for a
// local backend, Redis mirrors the local snapshot and restores it when the
// local copy is missing.
func OpenBackends(cfg *config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}
	fail := func(err error) (*Backends, error) {
		_ = b.Close()
		return nil, err
	}

	var redisBackend storage.Backend
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis snapshot layer...", "addr", cfg.Redis.Addr)
		client, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fail(fmt.Errorf("failed to connect to Redis: %w", err))
		}
		b.closers = append(b.closers, client.Close)
		redisBackend = cache.NewRedisBackend(client, cfg.Redis.Key, cfg.Redis.TTL)
	}

	switch cfg.Cache.Backend {
	case config.BackendMemory:
		b.Cache = storage.NewMemoryBackend()
	case config.BackendFile:
		fb, err := file.New(cfg.Cache.Dir, cfg.Cache.Filename)
		if err != nil {
			return fail(err)
		}
		b.Cache = fb
	case config.BackendSQLite:
		db, err := openSQLite(cfg.SQLite.Path, cacheSnapshotKey)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, db.Close)
		b.Cache = db
	case config.BackendRedis:
		if redisBackend == nil {
			return fail(fmt.Errorf("cache backend %q requires Redis to be enabled", config.BackendRedis))
		}
		b.Cache = redisBackend
	default:
		return fail(fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend))
	}

	if redisBackend != nil && cfg.Cache.Backend != config.BackendRedis && cfg.Cache.Backend != config.BackendMemory {
		b.Cache = cache.NewMirroredBackend(b.Cache, redisBackend, logger)
		logger.Info("Snapshot backend upgraded", "type", "redis_mirrored_"+cfg.Cache.Backend)
	}

	if cfg.Tracking.DebugMirror {
		switch cfg.Cache.Backend {
		case config.BackendSQLite:
			db, err := openSQLite(cfg.SQLite.Path, debugSnapshotKey)
			if err != nil {
				return fail(err)
			}
			b.closers = append(b.closers, db.Close)
			b.Debug = db
		case config.BackendFile, config.BackendRedis:
			fb, err := file.New(cfg.Cache.Dir, debugFilename)
			if err != nil {
				return fail(err)
			}
			b.Debug = fb
		default:
			b.Debug = storage.NewMemoryBackend()
		}
	}

	logger.Info("Snapshot backends opened",
		"backend", cfg.Cache.Backend,
		"debug_mirror", b.Debug != nil,
	)
	return b, nil
}

func openSQLite(path, name string) (*sqlite.Backend, error) {
	resolved, err := file.ExpandPath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	return sqlite.Open(resolved, name)
}
