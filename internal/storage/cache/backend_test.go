// --- File: internal/storage/cache/backend_test.go ---
package cache_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/storage"
	"github.com/tinywideclouds/go-geooffers-sdk/internal/storage/cache"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
func (m *MockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}

func TestRedisBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - Write and read use the configured key", func(t *testing.T) {
		mockCache := new(MockCache)
		backend := cache.NewRedisBackend(mockCache, "", time.Hour)

		mockCache.On("Set", ctx, cache.DefaultKey, []byte(`{}`), time.Hour).Return(nil)
		mockCache.On("Get", ctx, cache.DefaultKey).Return([]byte(`{}`), nil)

		require.NoError(t, backend.Write(ctx, []byte(`{}`)))
		data, err := backend.Read(ctx)

		require.NoError(t, err)
		assert.Equal(t, `{}`, string(data))
		mockCache.AssertExpectations(t)
	})

	t.Run("Missing key surfaces not found", func(t *testing.T) {
		mockCache := new(MockCache)
		backend := cache.NewRedisBackend(mockCache, "sdk:a", 0)
		mockCache.On("Get", ctx, "sdk:a").Return(nil, storage.ErrNotFound)

		_, err := backend.Read(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestMirroredBackend(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("Writes go to both backends", func(t *testing.T) {
		primary := storage.NewMemoryBackend()
		mockCache := new(MockCache)
		mockCache.On("Set", ctx, cache.DefaultKey, []byte(`{"a":1}`), time.Duration(0)).Return(nil)

		backend := cache.NewMirroredBackend(primary, cache.NewRedisBackend(mockCache, "", 0), logger)
		require.NoError(t, backend.Write(ctx, []byte(`{"a":1}`)))

		assert.Equal(t, 1, primary.Writes())
		mockCache.AssertExpectations(t)
	})

	t.Run("Mirror failure does not fail the write", func(t *testing.T) {
		primary := storage.NewMemoryBackend()
		mockCache := new(MockCache)
		mockCache.On("Set", ctx, mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

		backend := cache.NewMirroredBackend(primary, cache.NewRedisBackend(mockCache, "", 0), logger)
		assert.NoError(t, backend.Write(ctx, []byte(`{}`)))
	})

	t.Run("Empty primary is restored from the mirror", func(t *testing.T) {
		primary := storage.NewMemoryBackend()
		mockCache := new(MockCache)
		mockCache.On("Get", ctx, cache.DefaultKey).Return([]byte(`{"restored":true}`), nil)

		backend := cache.NewMirroredBackend(primary, cache.NewRedisBackend(mockCache, "", 0), logger)
		data, err := backend.Read(ctx)

		require.NoError(t, err)
		assert.Equal(t, `{"restored":true}`, string(data))

		local, err := primary.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, `{"restored":true}`, string(local))
	})

	t.Run("Primary hit skips the mirror", func(t *testing.T) {
		primary := storage.NewMemoryBackend()
		require.NoError(t, primary.Write(ctx, []byte(`{"local":true}`)))
		mockCache := new(MockCache)

		backend := cache.NewMirroredBackend(primary, cache.NewRedisBackend(mockCache, "", 0), logger)
		data, err := backend.Read(ctx)

		require.NoError(t, err)
		assert.Equal(t, `{"local":true}`, string(data))
		mockCache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})

	t.Run("Both empty reads as not found", func(t *testing.T) {
		mockCache := new(MockCache)
		mockCache.On("Get", ctx, cache.DefaultKey).Return(nil, storage.ErrNotFound)

		backend := cache.NewMirroredBackend(storage.NewMemoryBackend(), cache.NewRedisBackend(mockCache, "", 0), logger)
		_, err := backend.Read(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
