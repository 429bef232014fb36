// --- File: geooffers/config/config_test.go ---
package config_test

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-geooffers-sdk/geooffers/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			RegistrationCode: "base-code",
			Timezone:         "Europe/London",
			Cache: config.CacheConfig{
				Backend: config.BackendFile,
				Dir:     "/var/lib/geooffers",
			},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("GEOOFFERS_REGISTRATION_CODE", "env-code")
		t.Setenv("GEOOFFERS_TIMEZONE", "America/New_York")
		t.Setenv("GEOOFFERS_CACHE_BACKEND", config.BackendRedis)
		t.Setenv("GEOOFFERS_CACHE_DIR", "/tmp/env-cache")
		t.Setenv("GEOOFFERS_SAVE_PERIOD", "1s")
		t.Setenv("GEOOFFERS_DEBUG", "true")
		t.Setenv("GEOOFFERS_DEVICE_STATE", "/tmp/env-device.toml")
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("REDIS_PASSWORD", "secret")
		t.Setenv("REDIS_DB", "3")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-code", finalCfg.RegistrationCode)
		assert.Equal(t, "America/New_York", finalCfg.Timezone)
		assert.Equal(t, config.BackendRedis, finalCfg.Cache.Backend)
		assert.Equal(t, "/tmp/env-cache", finalCfg.Cache.Dir)
		assert.Equal(t, time.Second, finalCfg.Cache.SavePeriod)
		assert.True(t, finalCfg.Tracking.DebugMirror)
		assert.Equal(t, "/tmp/env-device.toml", finalCfg.DeviceStatePath)

		assert.True(t, finalCfg.Redis.Enabled)
		assert.Equal(t, "localhost:6379", finalCfg.Redis.Addr)
		assert.Equal(t, "secret", finalCfg.Redis.Password)
		assert.Equal(t, 3, finalCfg.Redis.DB)
	})

	t.Run("Success - Defaults filled in", func(t *testing.T) {
		cfg := baseConfig()
		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "base-code", finalCfg.RegistrationCode)
		assert.Equal(t, config.DefaultCacheFilename, finalCfg.Cache.Filename)
		assert.Equal(t, config.DefaultSavePeriod, finalCfg.Cache.SavePeriod)
		assert.Equal(t, config.DefaultRedisKey, finalCfg.Redis.Key)
		assert.False(t, finalCfg.Redis.Enabled)
		assert.Equal(t, filepath.Join("/var/lib/geooffers", "geooffers.db"), finalCfg.SQLite.Path)
		assert.Equal(t, filepath.Join("/var/lib/geooffers", "device.toml"), finalCfg.DeviceStatePath)
		assert.Equal(t, config.DefaultBatchSize, finalCfg.Tracking.BatchSize)
		assert.Equal(t, config.DefaultDebugLimit, finalCfg.Tracking.DebugLimit)
		assert.Equal(t, config.DefaultFragmentTTL, finalCfg.Push.FragmentTTL)
		assert.Equal(t, config.DefaultMinimumMovementDistance, finalCfg.Location.MinimumMovementDistance)
		assert.Equal(t, config.DefaultMinimumRefreshWait, finalCfg.Location.MinimumRefreshWait)
		assert.Equal(t, config.DefaultMaxMonitoredRegions, finalCfg.Location.MaxMonitoredRegions)
	})

	t.Run("Success - Invalid numeric overrides are ignored", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Cache.SavePeriod = 10 * time.Second
		t.Setenv("GEOOFFERS_SAVE_PERIOD", "soon")
		t.Setenv("REDIS_DB", "three")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, finalCfg.Cache.SavePeriod)
		assert.Equal(t, 0, finalCfg.Redis.DB)
	})

	t.Run("Validation Failure - Missing RegistrationCode", func(t *testing.T) {
		cfg := &config.Config{}
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Unknown timezone", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Timezone = "Mars/Olympus_Mons"
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Unknown backend", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Cache.Backend = "tape"
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Redis backend without address", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Cache.Backend = config.BackendRedis
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})
}
