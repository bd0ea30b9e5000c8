// Package sched provides the single-goroutine delayed task queue that drives
// expansion. Every task runs on the scheduler goroutine, one at a time, so
// state touched only from tasks needs no further synchronisation.
//
// Loop runs against the wall clock. Virtual runs against a simulated clock
// advanced explicitly by tests.
package sched

import (
	"context"
	"time"
)

// Task is a unit of work executed on the scheduler goroutine.
type Task func(ctx context.Context)

// Scheduler is the contract shared by Loop and Virtual.
type Scheduler interface {
	// Now returns the scheduler's notion of the current time.
	Now() time.Time
	// After runs fn once d has elapsed. A non-positive d runs fn on the next
	// turn of the queue.
	After(d time.Duration, fn Task) *Timer
}

// Timer is a handle on a scheduled task.
type Timer struct {
	q *queue
	t *task
}

// Stop cancels the task. It reports whether the task was still pending.
func (tm *Timer) Stop() bool {
	if tm == nil || tm.q == nil {
		return false
	}
	return tm.q.cancel(tm.t)
}

// Post schedules fn to run as soon as possible on s.
func Post(s Scheduler, fn Task) *Timer {
	return s.After(0, fn)
}
