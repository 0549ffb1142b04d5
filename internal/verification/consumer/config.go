package consumer

import "time"

// Config controls the verification consumer loop.
type Config struct {
	BatchSize    int
	Workers      int
	PollInterval time.Duration
	RunTimeout   time.Duration
	MaxRetries   int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    10,
		Workers:      5,
		PollInterval: 5 * time.Second,
		RunTimeout:   2 * time.Minute,
		MaxRetries:   4,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	return c
}
