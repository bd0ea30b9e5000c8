package expand

import (
	"math"
	"time"
)

// RetryPolicy bounds the attempts made for one message.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Delay is the wait before the first retry.
	Delay time.Duration
	// Multiplier scales Delay for each further retry. 1 keeps it fixed.
	Multiplier float64
}

// DefaultRetryPolicy allows two retries one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Delay: time.Second, Multiplier: 1}
}

func (p *RetryPolicy) defaults() {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Delay <= 0 {
		p.Delay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
}

// Backoff returns the wait before the retry that follows attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return time.Duration(float64(p.Delay) * math.Pow(p.Multiplier, float64(attempt)))
}

// Retryable reports whether a failed attempt may be followed by another.
func (p RetryPolicy) Retryable(attempt int) bool { return attempt < p.MaxRetries }
