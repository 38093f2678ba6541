package tasks

import (
	"time"

	"github.com/desertthunder/murmur/internal/shared"
)

// RetryPolicy decides how often and how far apart failed deliveries are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy returns 5 attempts starting at 2s, doubling up to 5m.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
		Multiplier:     2.0,
	}
}

// PolicyFromConfig builds a RetryPolicy from the [queue] config section, keeping defaults for unset values.
func PolicyFromConfig(cfg shared.QueueConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoff.Duration > 0 {
		p.InitialBackoff = cfg.InitialBackoff.Duration
	}
	if cfg.MaxBackoff.Duration > 0 {
		p.MaxBackoff = cfg.MaxBackoff.Duration
	}
	if cfg.BackoffMultiplier >= 1 {
		p.Multiplier = cfg.BackoffMultiplier
	}
	return p
}

// Backoff returns the delay before the given attempt (1-based) of a retry.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= p.Multiplier
		if backoff >= float64(p.MaxBackoff) {
			break
		}
	}

	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}
	return time.Duration(backoff)
}

// Exhausted reports whether retryCount attempts use up the policy.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxAttempts
}
