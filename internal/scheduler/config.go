package scheduler

import (
	"time"

	"github.com/smallbiznis/payflow/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval    time.Duration
	BatchSize      int
	JobTimeout     time.Duration
	IdempotencyTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Minute,
		BatchSize:      100,
		JobTimeout:     30 * time.Second,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// ConfigFrom maps the runtime knobs onto a scheduler config.
func ConfigFrom(rc config.RuntimeConfig) Config {
	return Config{
		RunInterval:    rc.SchedulerInterval(),
		BatchSize:      rc.SchedulerBatchSize,
		IdempotencyTTL: rc.IdempotencyTTL(),
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = defaults.IdempotencyTTL
	}
	return c
}
