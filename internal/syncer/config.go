package syncer

import (
	"time"

	"github.com/smallbiznis/atlas/internal/config"
	"github.com/smallbiznis/atlas/internal/projector"
)

type Config struct {
	Concurrency  int
	FloatTimeout time.Duration
	LeaseTTL     time.Duration
	// RunTimeout bounds a whole batch run.
	RunTimeout time.Duration
	// RunInterval is the period of the background update loop.
	RunInterval time.Duration
	// Write bounds retries of the metadata upsert.
	Write projector.RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		Concurrency:  10,
		FloatTimeout: 5 * time.Minute,
		LeaseTTL:     15 * time.Minute,
		RunTimeout:   6 * time.Hour,
		RunInterval:  24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.FloatTimeout <= 0 {
		c.FloatTimeout = defaults.FloatTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaults.LeaseTTL
	}
	// the lease must outlive the attempt it protects
	if c.LeaseTTL < c.FloatTimeout {
		c.LeaseTTL = c.FloatTimeout + time.Minute
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Concurrency:  cfg.Sync.Concurrency,
		FloatTimeout: cfg.Sync.FloatTimeout,
		LeaseTTL:     cfg.Lease.TTL,
		RunTimeout:   cfg.Sync.RunTimeout,
		RunInterval:  cfg.Sync.RunInterval,
		Write:        projector.RetryPolicy{Attempts: cfg.Sync.WriteRetries, Backoff: cfg.Sync.WriteBackoff},
	}
}
