// --- File: geooffers/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"time"
)

type YamlCacheConfig struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir"`
	Filename   string `yaml:"filename"`
	SavePeriod string `yaml:"save_period"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	Key      string `yaml:"key"`
	TTL      string `yaml:"ttl"`
}

type YamlSQLiteConfig struct {
	Path string `yaml:"path"`
}

type YamlTrackingConfig struct {
	BatchSize   int  `yaml:"batch_size"`
	DebugMirror bool `yaml:"debug_mirror"`
	DebugLimit  int  `yaml:"debug_limit"`
}

type YamlPushConfig struct {
	FragmentTTL string `yaml:"fragment_ttl"`
}

type YamlLocationConfig struct {
	MinimumMovementDistance float64 `yaml:"minimum_movement_distance"`
	MinimumRefreshWait      string  `yaml:"minimum_refresh_wait"`
	MaxMonitoredRegions     int     `yaml:"max_monitored_regions"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	RegistrationCode string             `yaml:"registration_code"`
	Timezone         string             `yaml:"timezone"`
	DeviceStatePath  string             `yaml:"device_state_path"`
	Cache            YamlCacheConfig    `yaml:"cache"`
	Redis            YamlRedisConfig    `yaml:"redis"`
	SQLite           YamlSQLiteConfig   `yaml:"sqlite"`
	Tracking         YamlTrackingConfig `yaml:"tracking"`
	Push             YamlPushConfig     `yaml:"push"`
	Location         YamlLocationConfig `yaml:"location"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	savePeriod, err := parseDuration("cache.save_period", baseCfg.Cache.SavePeriod)
	if err != nil {
		return nil, err
	}
	redisTTL, err := parseDuration("redis.ttl", baseCfg.Redis.TTL)
	if err != nil {
		return nil, err
	}
	fragmentTTL, err := parseDuration("push.fragment_ttl", baseCfg.Push.FragmentTTL)
	if err != nil {
		return nil, err
	}
	refreshWait, err := parseDuration("location.minimum_refresh_wait", baseCfg.Location.MinimumRefreshWait)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		RegistrationCode: baseCfg.RegistrationCode,
		Timezone:         baseCfg.Timezone,
		DeviceStatePath:  baseCfg.DeviceStatePath,
		Cache: CacheConfig{
			Backend:    baseCfg.Cache.Backend,
			Dir:        baseCfg.Cache.Dir,
			Filename:   baseCfg.Cache.Filename,
			SavePeriod: savePeriod,
		},
		Redis: RedisConfig{
			Enabled:  baseCfg.Redis.Enabled,
			Addr:     baseCfg.Redis.Addr,
			Password: baseCfg.Redis.Password,
			DB:       baseCfg.Redis.DB,
			Key:      baseCfg.Redis.Key,
			TTL:      redisTTL,
		},
		SQLite: SQLiteConfig{Path: baseCfg.SQLite.Path},
		Tracking: TrackingConfig{
			BatchSize:   baseCfg.Tracking.BatchSize,
			DebugMirror: baseCfg.Tracking.DebugMirror,
			DebugLimit:  baseCfg.Tracking.DebugLimit,
		},
		Push: PushConfig{FragmentTTL: fragmentTTL},
		Location: LocationConfig{
			MinimumMovementDistance: baseCfg.Location.MinimumMovementDistance,
			MinimumRefreshWait:      refreshWait,
			MaxMonitoredRegions:     baseCfg.Location.MaxMonitoredRegions,
		},
	}

	logger.Debug("YAML config mapping complete",
		"backend", cfg.Cache.Backend,
		"cache_dir", cfg.Cache.Dir,
		"timezone", cfg.Timezone,
	)

	return cfg, nil
}

// parseDuration treats an empty value as unset.
func parseDuration(key, val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}
