// Package config loads the engine's runtime configuration from a
// config.yaml (or engine-prefixed environment variables) via viper, caches
// it behind an atomic.Value for lock-free reads, and live-reloads on file
// change with debouncing.
package config

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/mediavault/engine/internal/obs/logging"
)

// Config is the engine's typed configuration, unmarshaled from viper.
type Config struct {
	Storage struct {
		Root string `mapstructure:"root"`
	} `mapstructure:"storage"`

	Lock struct {
		StaleAfter time.Duration `mapstructure:"stale_after"`
	} `mapstructure:"lock"`

	Shard struct {
		BucketCount int `mapstructure:"bucket_count"`
		Capacity    int `mapstructure:"capacity"`
	} `mapstructure:"shard"`

	SortIndex struct {
		PageSize  int `mapstructure:"page_size"`
		BatchSize int `mapstructure:"batch_size"`
	} `mapstructure:"sortindex"`

	Replicate struct {
		Partial bool `mapstructure:"partial"`
	} `mapstructure:"replicate"`

	Log struct {
		Level  string `mapstructure:"level"`
		Output string `mapstructure:"output"`
		Dir    string `mapstructure:"dir"`
	} `mapstructure:"log"`
}

var (
	cachedConfig    atomic.Value // stores *Config
	configLoadOnce  sync.Once
	configLoadError error
	writeMutex      sync.Mutex

	debounceTimer *time.Timer
	debounceMutex sync.Mutex
)

func setDefaults() {
	viper.SetDefault("storage.root", "./data")
	viper.SetDefault("lock.stale_after", 5*time.Minute)
	viper.SetDefault("shard.bucket_count", 64)
	viper.SetDefault("shard.capacity", 1000)
	viper.SetDefault("sortindex.page_size", 1000)
	viper.SetDefault("sortindex.batch_size", 500)
	viper.SetDefault("replicate.partial", false)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.dir", "./logs")
}

// Init reads config.yaml from the working directory (or ./config), applies
// defaults for anything missing, and starts watching for changes.
func Init() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("MEDIAVAULT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file is fine; defaults + env vars carry the day.
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	if err := reloadConfigCache(); err != nil {
		return fmt.Errorf("load initial config: %w", err)
	}

	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		debounceMutex.Lock()
		defer debounceMutex.Unlock()

		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(500*time.Millisecond, func() {
			writeMutex.Lock()
			defer writeMutex.Unlock()

			if err := reloadConfigCache(); err != nil {
				logging.Errorf("reload config after %s changed: %v", e.Name, err)
			}
		})
	})

	return nil
}

func reloadConfigCache() error {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	cachedConfig.Store(cfg)
	return nil
}

// Get returns the cached configuration, loading it once from viper defaults
// if Init was never called (useful in tests).
func Get() (*Config, error) {
	if cfg := cachedConfig.Load(); cfg != nil {
		return cfg.(*Config), nil
	}

	configLoadOnce.Do(func() {
		setDefaults()
		configLoadError = reloadConfigCache()
	})

	if configLoadError != nil {
		return nil, configLoadError
	}

	cfg := cachedConfig.Load()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg.(*Config), nil
}
