package sched

import (
	"context"
	"log/slog"
	"time"
)

// Loop is a Scheduler driven by the wall clock. Tasks run on the goroutine
// that calls Run.
type Loop struct {
	q      queue
	wake   chan struct{}
	now    func() time.Time
	logger *slog.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLogger sets the logger used to report recovered task panics.
func WithLogger(l *slog.Logger) LoopOption {
	return func(lp *Loop) { lp.logger = l }
}

// NewLoop creates a Loop. Call Run to start executing tasks.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Now returns the wall clock time.
func (l *Loop) Now() time.Time { return l.now() }

// After schedules fn to run after d. Safe to call from any goroutine.
func (l *Loop) After(d time.Duration, fn Task) *Timer {
	if d < 0 {
		d = 0
	}
	tm := l.q.push(l.now().Add(d), fn)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return tm
}

// Pending returns the number of scheduled tasks.
func (l *Loop) Pending() int { return l.q.len() }

// Run executes tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if t := l.q.popDue(l.now()); t != nil {
			l.exec(ctx, t)
			continue
		}

		var timerC <-chan time.Time
		var timer *time.Timer
		if due, ok := l.q.next(); ok {
			timer = time.NewTimer(due.Sub(l.now()))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-l.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (l *Loop) exec(ctx context.Context, t *task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("sched: task panicked", "panic", r)
		}
	}()
	t.fn(ctx)
}
