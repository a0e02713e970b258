package crawler

import (
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy configures retries of connectivity failures on the HEAD probe.
// Definitive HTTP error statuses are never retried.
type RetryPolicy struct {
	MaxRetries int           // Retries after the first attempt (1 = 2 total attempts)
	Delay      time.Duration // Fixed wait between attempts
}

// DefaultRetryPolicy returns a RetryPolicy with 1 retry and a 500ms delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 1,
		Delay:      500 * time.Millisecond,
	}
}

// Config holds controller configuration.
type Config struct {
	Concurrency    int             // Max in-flight checks (default 5)
	RequestTimeout time.Duration   // Per-probe timeout (default 10s)
	RetryPolicy    RetryPolicy     // Zero value means no retries
	Logger         *zerolog.Logger // Defaults to a no-op logger
	Notifier       Notifier        // Optional progress observer
	Marker         Marker          // Optional per-item marker
}

// DefaultConfig returns a Config with 5 concurrent checks, a 10s probe
// timeout and DefaultRetryPolicy.
func DefaultConfig() Config {
	return Config{
		Concurrency:    5,
		RequestTimeout: 10 * time.Second,
		RetryPolicy:    DefaultRetryPolicy(),
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.RetryPolicy.MaxRetries < 0 {
		cfg.RetryPolicy.MaxRetries = 0
	}
	if cfg.RetryPolicy.Delay < 0 {
		cfg.RetryPolicy.Delay = 0
	}
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NotifierFunc(func(RunEvent) {})
	}
	if cfg.Marker == nil {
		cfg.Marker = nopMarker{}
	}
}
