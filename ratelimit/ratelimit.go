// Package ratelimit implements the fixed-window counter that gates
// expansion attempts.
//
// The window rolls over lazily: there is no background timer, so every
// CanExpand call checks whether the window has elapsed and resets it if so.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is the length of one counting window.
	DefaultWindow = time.Second
	// DefaultCapacity is the number of attempts allowed per window.
	DefaultCapacity = 5
)

// Status is a point-in-time view of the limiter.
type Status struct {
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"reset_in"`
}

// Limiter is a fixed-window token counter.
type Limiter struct {
	mu          sync.Mutex
	now         func() time.Time
	window      time.Duration
	capacity    int
	count       int
	windowStart time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects the time source. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithWindow sets the window length. Non-positive values keep the default.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithCapacity sets the attempts allowed per window. Non-positive values
// keep the default.
func WithCapacity(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// New creates a Limiter whose first window starts now.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		now:      time.Now,
		window:   DefaultWindow,
		capacity: DefaultCapacity,
	}
	for _, o := range opts {
		o(l)
	}
	l.windowStart = l.now()
	return l
}

// CanExpand reports whether the current window still has capacity. It
// resets the window first if it has elapsed.
func (l *Limiter) CanExpand() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.windowStart) >= l.window {
		l.count = 0
		l.windowStart = now
	}
	return l.count < l.capacity
}

// RecordExpansion counts one performed attempt. Call it once per attempt
// that actually acted on the page.
func (l *Limiter) RecordExpansion() {
	l.mu.Lock()
	l.count++
	l.mu.Unlock()
}

// Status reports the remaining attempts and the time until the window
// resets. An elapsed window reports full capacity without being reset.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	elapsed := l.now().Sub(l.windowStart)
	if elapsed >= l.window {
		return Status{Remaining: l.capacity}
	}
	return Status{
		Remaining: max(0, l.capacity-l.count),
		ResetIn:   max(0, l.window-elapsed),
	}
}

// Capacity returns the configured attempts per window.
func (l *Limiter) Capacity() int { return l.capacity }

// Allow is CanExpand followed by RecordExpansion when capacity remains. It
// suits callers that consume a token on every admitted request.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.windowStart) >= l.window {
		l.count = 0
		l.windowStart = now
	}
	if l.count >= l.capacity {
		return false
	}
	l.count++
	return true
}

// LastActive returns the start of the current window.
func (l *Limiter) LastActive() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.windowStart
}
