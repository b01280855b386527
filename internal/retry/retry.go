// Package retry provides retry logic with exponential backoff.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // Maximum number of attempts (0 = infinite)
	InitialWait time.Duration // Initial wait time
	MaxWait     time.Duration // Maximum wait time
	Multiplier  float64       // Backoff multiplier
	Jitter      float64       // Jitter factor (0-1)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Do executes fn with retries until it succeeds, attempts run out, or the
// context is canceled.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var err error
	for attempt := 0; cfg.MaxAttempts == 0 || attempt < cfg.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		wait := time.Duration(float64(cfg.InitialWait) * math.Pow(cfg.Multiplier, float64(attempt)))
		if wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
		if cfg.Jitter > 0 {
			jitter := time.Duration(rand.Float64() * cfg.Jitter * float64(wait))
			wait += jitter
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
