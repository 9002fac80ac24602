package scheduler

import (
	"math"
	"math/rand"
	"time"

	"github.com/leafguard/leafguard-go/internal/conf"
)

// Backoff computes retry delays: exponential growth capped at MaxDelay, with
// upward-only jitter so independent clients do not retry in lockstep. For
// any Multiplier >= 1.1 the resulting delays are non-decreasing across
// attempts up to the cap.
type Backoff struct {
	cfg conf.RetrySettings
}

// NewBackoff creates a Backoff from retry settings.
func NewBackoff(cfg conf.RetrySettings) Backoff {
	return Backoff{cfg: cfg}
}

// Delay returns the wait before retry number attempt (0-based: the delay
// after the first failed attempt is Delay(0)).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := float64(b.cfg.InitialDelay) * math.Pow(b.cfg.Multiplier, float64(attempt))
	maxDelay := float64(b.cfg.MaxDelay)
	if base > maxDelay {
		base = maxDelay
	}

	// Up to +10% jitter, clamped back at the cap so the cap is a hard limit.
	jittered := base * (1 + 0.1*rand.Float64())
	if jittered > maxDelay {
		jittered = maxDelay
	}
	return time.Duration(jittered)
}

// MaxRetries returns the configured retry budget.
func (b Backoff) MaxRetries() int {
	return b.cfg.MaxRetries
}
