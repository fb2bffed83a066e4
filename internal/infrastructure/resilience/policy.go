package resilience

import "time"

// Defaults tuned for the inference and vector-store backends this service
// talks to: short first backoff so a blip on a batch call recovers fast,
// a capped ceiling so a stuck upsert does not stall the whole run.
const (
	defaultRetryAttempts       = 4
	defaultInitialBackoff      = 200 * time.Millisecond
	defaultMaxBackoff          = 2 * time.Second
	defaultBackoffMultiplier   = 2.0
	defaultBreakerMinRequests  = 10
	defaultBreakerRatio        = 0.5
	defaultBreakerOpenTimeout  = 30 * time.Second
	defaultBreakerHalfOpenMax  = 2
)

// Config controls the retry loop and the per-operation circuit breakers of
// an Executor. Zero values fall back to the defaults above.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    defaultRetryAttempts,
		RetryInitialBackoff: defaultInitialBackoff,
		RetryMaxBackoff:     defaultMaxBackoff,
		RetryMultiplier:     defaultBackoffMultiplier,

		BreakerEnabled:          true,
		BreakerMinRequests:      defaultBreakerMinRequests,
		BreakerFailureRatio:     defaultBreakerRatio,
		BreakerOpenTimeout:      defaultBreakerOpenTimeout,
		BreakerHalfOpenMaxCalls: defaultBreakerHalfOpenMax,
	}
}

func (c Config) normalize() Config {
	out := c
	out.RetryMaxAttempts = clampInt(out.RetryMaxAttempts, defaultRetryAttempts)
	out.RetryInitialBackoff = clampDuration(out.RetryInitialBackoff, defaultInitialBackoff)
	out.RetryMaxBackoff = clampDuration(out.RetryMaxBackoff, defaultMaxBackoff)
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = defaultBackoffMultiplier
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = defaultBreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = defaultBreakerRatio
	}
	out.BreakerOpenTimeout = clampDuration(out.BreakerOpenTimeout, defaultBreakerOpenTimeout)
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = defaultBreakerHalfOpenMax
	}
	return out
}

func clampInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func clampDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
