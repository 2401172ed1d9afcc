package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RuntimeConfig carries processing knobs that may be tuned without a restart.
type RuntimeConfig struct {
	EventMaxAttempts         int `mapstructure:"eventMaxAttempts"`
	OutboxBatchSize          int `mapstructure:"outboxBatchSize"`
	OutboxPollIntervalMs     int `mapstructure:"outboxPollIntervalMs"`
	OutboxConcurrency        int `mapstructure:"outboxConcurrency"`
	SchedulerIntervalMs      int `mapstructure:"schedulerIntervalMs"`
	SchedulerBatchSize       int `mapstructure:"schedulerBatchSize"`
	IdempotencyTTLMinutes    int `mapstructure:"idempotencyTtlMinutes"`
	ProcessingTimeoutMinutes int `mapstructure:"processingTimeoutMinutes"`
	MaxPayloadBytes          int `mapstructure:"maxPayloadBytes"`
	RetryBaseSeconds         int `mapstructure:"retryBaseSeconds"`
	RetryJitterMs            int `mapstructure:"retryJitterMs"`
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		EventMaxAttempts:         5,
		OutboxBatchSize:          50,
		OutboxPollIntervalMs:     1000,
		OutboxConcurrency:        4,
		SchedulerIntervalMs:      60000,
		SchedulerBatchSize:       100,
		IdempotencyTTLMinutes:    1440,
		ProcessingTimeoutMinutes: 15,
		MaxPayloadBytes:          65536,
		RetryBaseSeconds:         2,
		RetryJitterMs:            1000,
	}
}

func (c RuntimeConfig) OutboxPollInterval() time.Duration {
	return time.Duration(c.OutboxPollIntervalMs) * time.Millisecond
}

func (c RuntimeConfig) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalMs) * time.Millisecond
}

func (c RuntimeConfig) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLMinutes) * time.Minute
}

// ProcessingTimeout is how long a claimed job may stay PROCESSING before the
// worker reports it as stuck. Zero disables the check.
func (c RuntimeConfig) ProcessingTimeout() time.Duration {
	return time.Duration(c.ProcessingTimeoutMinutes) * time.Minute
}

func (c RuntimeConfig) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseSeconds) * time.Second
}

func (c RuntimeConfig) RetryJitter() time.Duration {
	return time.Duration(c.RetryJitterMs) * time.Millisecond
}

type RuntimeConfigHolder struct {
	current atomic.Value // holds RuntimeConfig
}

// NewStaticRuntimeConfigHolder returns a holder pinned to cfg, used by tests and tools.
func NewStaticRuntimeConfigHolder(cfg RuntimeConfig) *RuntimeConfigHolder {
	holder := &RuntimeConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// NewRuntimeConfigHolder loads payflow.yml (optional) with PAYFLOW_* env overrides
// and keeps watching the file for changes.
func NewRuntimeConfigHolder(log *zap.Logger) (*RuntimeConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.runtime")

	v := viper.New()
	v.SetConfigName("payflow")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/payflow")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRuntimeConfig()
	setRuntimeDefaults(v, defaults)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	cfg, err := decodeRuntimeConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticRuntimeConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeRuntimeConfig(v)
		if err != nil {
			log.Warn("runtime config reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("runtime config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *RuntimeConfigHolder) Get() RuntimeConfig {
	return h.current.Load().(RuntimeConfig)
}

func setRuntimeDefaults(v *viper.Viper, d RuntimeConfig) {
	v.SetDefault("eventMaxAttempts", d.EventMaxAttempts)
	v.SetDefault("outboxBatchSize", d.OutboxBatchSize)
	v.SetDefault("outboxPollIntervalMs", d.OutboxPollIntervalMs)
	v.SetDefault("outboxConcurrency", d.OutboxConcurrency)
	v.SetDefault("schedulerIntervalMs", d.SchedulerIntervalMs)
	v.SetDefault("schedulerBatchSize", d.SchedulerBatchSize)
	v.SetDefault("idempotencyTtlMinutes", d.IdempotencyTTLMinutes)
	v.SetDefault("processingTimeoutMinutes", d.ProcessingTimeoutMinutes)
	v.SetDefault("maxPayloadBytes", d.MaxPayloadBytes)
	v.SetDefault("retryBaseSeconds", d.RetryBaseSeconds)
	v.SetDefault("retryJitterMs", d.RetryJitterMs)
}

func decodeRuntimeConfig(v *viper.Viper) (RuntimeConfig, error) {
	var cfg RuntimeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return RuntimeConfig{}, err
	}
	if err := validateRuntimeConfig(cfg); err != nil {
		return RuntimeConfig{}, err
	}
	return cfg, nil
}

func validateRuntimeConfig(cfg RuntimeConfig) error {
	if cfg.EventMaxAttempts < 1 {
		return errors.New("eventMaxAttempts must be at least 1")
	}
	if cfg.OutboxBatchSize < 1 {
		return errors.New("outboxBatchSize must be at least 1")
	}
	if cfg.OutboxPollIntervalMs < 1 {
		return errors.New("outboxPollIntervalMs must be positive")
	}
	if cfg.OutboxConcurrency < 1 {
		return errors.New("outboxConcurrency must be at least 1")
	}
	if cfg.SchedulerIntervalMs < 1 {
		return errors.New("schedulerIntervalMs must be positive")
	}
	if cfg.SchedulerBatchSize < 1 {
		return errors.New("schedulerBatchSize must be at least 1")
	}
	if cfg.RetryBaseSeconds < 1 {
		return errors.New("retryBaseSeconds must be at least 1")
	}
	if cfg.ProcessingTimeoutMinutes < 0 {
		return errors.New("processingTimeoutMinutes cannot be negative")
	}
	if cfg.RetryJitterMs < 0 {
		return errors.New("retryJitterMs cannot be negative")
	}
	return nil
}
