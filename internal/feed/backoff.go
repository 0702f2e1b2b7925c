package feed

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// ErrMaxAttempts is returned by a policy that has run out of attempts.
var ErrMaxAttempts = errors.New("max reconnect attempts exceeded")

// ReconnectPolicy decides how long to wait before each connect attempt.
type ReconnectPolicy interface {
	// Delay returns the wait before connect attempt n (1-based) of one
	// reconnect. A non-nil error stops reconnecting.
	Delay(attempt int) (time.Duration, error)
}

// ExponentialBackoff connects immediately on the first attempt, then waits
// BaseDelay * Factor^(n-2), spread by Jitter and capped at MaxDelay.
type ExponentialBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64

	// Jitter spreads each delay over [d*(1-Jitter), d*(1+Jitter)).
	// Zero disables it.
	Jitter float64

	// MaxAttempts of 0 means unlimited.
	MaxAttempts int

	random func() float64
}

// NewExponentialBackoff builds the policy described by cfg.
func NewExponentialBackoff(cfg Config) *ExponentialBackoff {
	jitter := cfg.ReconnectJitter
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	factor := cfg.ReconnectFactor
	if factor < 1 {
		factor = defaultReconnectFactor
	}
	return &ExponentialBackoff{
		BaseDelay:   cfg.ReconnectBaseDelay,
		MaxDelay:    cfg.ReconnectMaxDelay,
		Factor:      factor,
		Jitter:      jitter,
		MaxAttempts: cfg.ReconnectMaxAttempts,
	}
}

// Delay implements ReconnectPolicy.
func (b *ExponentialBackoff) Delay(attempt int) (time.Duration, error) {
	if b.MaxAttempts > 0 && attempt > b.MaxAttempts {
		return 0, fmt.Errorf("%w (%d)", ErrMaxAttempts, b.MaxAttempts)
	}
	if attempt <= 1 || b.BaseDelay <= 0 {
		return 0, nil
	}

	d := float64(b.BaseDelay) * math.Pow(b.Factor, float64(attempt-2))
	if b.Jitter > 0 {
		r := rand.Float64
		if b.random != nil {
			r = b.random
		}
		d *= 1 - b.Jitter + 2*b.Jitter*r()
	}
	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	return time.Duration(d), nil
}
