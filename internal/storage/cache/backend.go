// --- File: internal/storage/cache/backend.go ---
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-geooffers-sdk/internal/storage"
)

// DefaultKey is the Redis key holding the cache snapshot.
const DefaultKey = "geooffers:cache"

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or storage.ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores the value with a TTL. Zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisBackend keeps the snapshot blob under a single key.
type RedisBackend struct {
	client CacheClient
	key    string
	ttl    time.Duration
}

func NewRedisBackend(client CacheClient, key string, ttl time.Duration) *RedisBackend {
	if key == "" {
		key = DefaultKey
	}
	return &RedisBackend{client: client, key: key, ttl: ttl}
}

func (b *RedisBackend) Read(ctx context.Context) ([]byte, error) {
	return b.client.Get(ctx, b.key)
}

func (b *RedisBackend) Write(ctx context.Context, data []byte) error {
	return b.client.Set(ctx, b.key, data, b.ttl)
}

// MirroredBackend is a Decorator that copies every snapshot written to the
// primary backend into a mirror, and reads from the mirror when the primary
// has nothing stored (e.g. after the local cache directory was wiped).
type MirroredBackend struct {
	primary storage.Backend
	mirror  storage.Backend
	logger  *slog.Logger
}

func NewMirroredBackend(primary, mirror storage.Backend, logger *slog.Logger) *MirroredBackend {
	return &MirroredBackend{
		primary: primary,
		mirror:  mirror,
		logger:  logger.With("component", "MirroredBackend"),
	}
}

// --- READ PATH (Read-Aside) ---

func (b *MirroredBackend) Read(ctx context.Context) ([]byte, error) {
	data, err := b.primary.Read(ctx)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	mirrored, mirrorErr := b.mirror.Read(ctx)
	if mirrorErr != nil {
		return nil, err
	}
	b.logger.Info("Restored snapshot from mirror", "bytes", len(mirrored))

	// Repopulate the primary (Fire and Forget)
	if writeErr := b.primary.Write(ctx, mirrored); writeErr != nil {
		b.logger.Warn("Failed to repopulate primary from mirror", "err", writeErr)
	}
	return mirrored, nil
}

// --- WRITE PATH ---

func (b *MirroredBackend) Write(ctx context.Context, data []byte) error {
	if err := b.primary.Write(ctx, data); err != nil {
		return err
	}
	if err := b.mirror.Write(ctx, data); err != nil {
		b.logger.Warn("Failed to mirror snapshot", "err", err)
	}
	return nil
}
