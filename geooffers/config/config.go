// --- File: geooffers/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Cache backends.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Defaults applied by UpdateConfigWithEnvOverrides.
const (
	DefaultTimezone                = "UTC"
	DefaultCacheDir                = "~/.geooffers"
	DefaultCacheFilename           = "GeoOffersCache.data"
	DefaultSavePeriod              = 30 * time.Second
	DefaultRedisKey                = "geooffers:cache"
	DefaultBatchSize               = 50
	DefaultDebugLimit              = 5000
	DefaultFragmentTTL             = 24 * time.Hour
	DefaultMinimumMovementDistance = 100.0
	DefaultMinimumRefreshWait      = 5 * time.Minute
	DefaultMaxMonitoredRegions     = 20
)

type CacheConfig struct {
	Backend    string
	Dir        string
	Filename   string
	SavePeriod time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Key      string
	// TTL of zero keeps the snapshot forever.
	TTL time.Duration
}

type SQLiteConfig struct {
	Path string
}

type TrackingConfig struct {
	BatchSize   int
	DebugMirror bool
	DebugLimit  int
}

type PushConfig struct {
	FragmentTTL time.Duration
}

type LocationConfig struct {
	// MinimumMovementDistance is in meters.
	MinimumMovementDistance float64
	MinimumRefreshWait      time.Duration
	MaxMonitoredRegions     int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	RegistrationCode string
	Timezone         string
	DeviceStatePath  string

	Cache    CacheConfig
	Redis    RedisConfig
	SQLite   SQLiteConfig
	Tracking TrackingConfig
	Push     PushConfig
	Location LocationConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("GEOOFFERS_REGISTRATION_CODE"); val != "" {
		logger.Debug("Overriding config value", "key", "GEOOFFERS_REGISTRATION_CODE", "source", "env")
		cfg.RegistrationCode = val
	}
	if val := os.Getenv("GEOOFFERS_TIMEZONE"); val != "" {
		logger.Debug("Overriding config value", "key", "GEOOFFERS_TIMEZONE", "source", "env")
		cfg.Timezone = val
	}
	if val := os.Getenv("GEOOFFERS_CACHE_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "GEOOFFERS_CACHE_BACKEND", "source", "env")
		cfg.Cache.Backend = val
	}
	if val := os.Getenv("GEOOFFERS_CACHE_DIR"); val != "" {
		logger.Debug("Overriding config value", "key", "GEOOFFERS_CACHE_DIR", "source", "env")
		cfg.Cache.Dir = val
	}
	if val := os.Getenv("GEOOFFERS_SAVE_PERIOD"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			logger.Debug("Overriding config value", "key", "GEOOFFERS_SAVE_PERIOD", "source", "env")
			cfg.Cache.SavePeriod = d
		}
	}
	if val := os.Getenv("GEOOFFERS_SQLITE_PATH"); val != "" {
		logger.Debug("Overriding config value", "key", "GEOOFFERS_SQLITE_PATH", "source", "env")
		cfg.SQLite.Path = val
	}
	if val := os.Getenv("GEOOFFERS_DEBUG"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			logger.Debug("Overriding config value", "key", "GEOOFFERS_DEBUG", "source", "env")
			cfg.Tracking.DebugMirror = enabled
		}
	}
	if val := os.Getenv("GEOOFFERS_DEVICE_STATE"); val != "" {
		logger.Debug("Overriding config value", "key", "GEOOFFERS_DEVICE_STATE", "source", "env")
		cfg.DeviceStatePath = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}

	// 2. Defaults
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = BackendFile
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = DefaultCacheDir
	}
	if cfg.Cache.Filename == "" {
		cfg.Cache.Filename = DefaultCacheFilename
	}
	if cfg.Cache.SavePeriod <= 0 {
		cfg.Cache.SavePeriod = DefaultSavePeriod
	}
	if cfg.Redis.Key == "" {
		cfg.Redis.Key = DefaultRedisKey
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = filepath.Join(cfg.Cache.Dir, "geooffers.db")
	}
	if cfg.DeviceStatePath == "" {
		cfg.DeviceStatePath = filepath.Join(cfg.Cache.Dir, "device.toml")
	}
	if cfg.Tracking.BatchSize <= 0 {
		cfg.Tracking.BatchSize = DefaultBatchSize
	}
	if cfg.Tracking.DebugLimit <= 0 {
		cfg.Tracking.DebugLimit = DefaultDebugLimit
	}
	if cfg.Push.FragmentTTL <= 0 {
		cfg.Push.FragmentTTL = DefaultFragmentTTL
	}
	if cfg.Location.MinimumMovementDistance <= 0 {
		cfg.Location.MinimumMovementDistance = DefaultMinimumMovementDistance
	}
	if cfg.Location.MinimumRefreshWait <= 0 {
		cfg.Location.MinimumRefreshWait = DefaultMinimumRefreshWait
	}
	if cfg.Location.MaxMonitoredRegions <= 0 {
		cfg.Location.MaxMonitoredRegions = DefaultMaxMonitoredRegions
	}

	// 3. Final Validation
	if cfg.RegistrationCode == "" {
		return nil, fmt.Errorf("registration_code is required (set via YAML or GEOOFFERS_REGISTRATION_CODE env var)")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	switch cfg.Cache.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("cache backend %q requires redis.addr (or REDIS_ADDR)", BackendRedis)
		}
		cfg.Redis.Enabled = true
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	logger.Debug("Configuration finalized and validated successfully",
		"backend", cfg.Cache.Backend,
		"redis_enabled", cfg.Redis.Enabled,
	)
	return cfg, nil
}
