package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ArchiveConfig holds the archival pipeline tunables. Operators adjust these
// without a redeploy via a mounted archive.yml; defaults apply otherwise.
type ArchiveConfig struct {
	// PageSize is the reader window per list request. Capped by the store's
	// own per-request limit.
	PageSize int `mapstructure:"pageSize"`
	// BatchSize bounds each IN-clause lookup chunk.
	BatchSize int `mapstructure:"batchSize"`
	// PaceDelay is the courtesy pause between store requests when the
	// fixed-interval pacer is active.
	PaceDelay time.Duration `mapstructure:"paceDelay"`
	// DailyHourUTC is the earliest UTC hour at which the daily archival of
	// yesterday may fire.
	DailyHourUTC int `mapstructure:"dailyHourUTC"`
	// RetryAttempts and RetryBaseDelay drive the daily job's bounded
	// exponential-backoff retry.
	RetryAttempts  int           `mapstructure:"retryAttempts"`
	RetryBaseDelay time.Duration `mapstructure:"retryBaseDelay"`
	// QueueBatchSize bounds how many warmup requests one scheduler pass drains.
	QueueBatchSize int `mapstructure:"queueBatchSize"`
	// RecoveryThreshold is how long a warmup request may sit in processing
	// before the sweep returns it to pending.
	RecoveryThreshold time.Duration `mapstructure:"recoveryThreshold"`
	// MaxRangeDays caps an accepted warmup range.
	MaxRangeDays int `mapstructure:"maxRangeDays"`
}

func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		PageSize:          100,
		BatchSize:         50,
		PaceDelay:         50 * time.Millisecond,
		DailyHourUTC:      2,
		RetryAttempts:     3,
		RetryBaseDelay:    30 * time.Second,
		QueueBatchSize:    10,
		RecoveryThreshold: 15 * time.Minute,
		MaxRangeDays:      92,
	}
}

type ArchiveConfigHolder struct {
	current atomic.Value // holds ArchiveConfig
}

// NewArchiveConfigHolder reads archive.yml when present, falls back to
// defaults, and hot-reloads on file change. Invalid updates are ignored.
func NewArchiveConfigHolder() (*ArchiveConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("archive")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/packline/config")
	v.AddConfigPath("/etc/packline")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PACKLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultArchiveConfig()
	v.SetDefault("archive.pageSize", defaults.PageSize)
	v.SetDefault("archive.batchSize", defaults.BatchSize)
	v.SetDefault("archive.paceDelay", defaults.PaceDelay)
	v.SetDefault("archive.dailyHourUTC", defaults.DailyHourUTC)
	v.SetDefault("archive.retryAttempts", defaults.RetryAttempts)
	v.SetDefault("archive.retryBaseDelay", defaults.RetryBaseDelay)
	v.SetDefault("archive.queueBatchSize", defaults.QueueBatchSize)
	v.SetDefault("archive.recoveryThreshold", defaults.RecoveryThreshold)
	v.SetDefault("archive.maxRangeDays", defaults.MaxRangeDays)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg ArchiveConfig
	if err := v.UnmarshalKey("archive", &cfg); err != nil {
		return nil, err
	}
	if err := validateArchiveConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ArchiveConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ArchiveConfig
		if err := v.UnmarshalKey("archive", &updated); err != nil {
			log.Printf("[archive-config] reload failed: %v", err)
			return
		}
		if err := validateArchiveConfig(updated); err != nil {
			log.Printf("[archive-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[archive-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *ArchiveConfigHolder) Get() ArchiveConfig {
	return h.current.Load().(ArchiveConfig)
}

// NewStaticArchiveConfigHolder wraps a fixed config, for tests.
func NewStaticArchiveConfigHolder(cfg ArchiveConfig) *ArchiveConfigHolder {
	holder := &ArchiveConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateArchiveConfig(cfg ArchiveConfig) error {
	if cfg.PageSize <= 0 {
		return errors.New("archive.pageSize must be positive")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("archive.batchSize must be positive")
	}
	if cfg.PaceDelay < 0 {
		return errors.New("archive.paceDelay cannot be negative")
	}
	if cfg.DailyHourUTC < 0 || cfg.DailyHourUTC > 23 {
		return errors.New("archive.dailyHourUTC must be within 0-23")
	}
	if cfg.RetryAttempts < 1 {
		return errors.New("archive.retryAttempts must be at least 1")
	}
	if cfg.QueueBatchSize <= 0 {
		return errors.New("archive.queueBatchSize must be positive")
	}
	if cfg.RecoveryThreshold <= 0 {
		return errors.New("archive.recoveryThreshold must be positive")
	}
	if cfg.MaxRangeDays <= 0 {
		return errors.New("archive.maxRangeDays must be positive")
	}
	return nil
}
