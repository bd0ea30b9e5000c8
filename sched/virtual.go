package sched

import (
	"context"
	"time"
)

// Virtual is a Scheduler over a simulated clock. Nothing runs until Advance
// is called, which makes timing behaviour deterministic in tests.
type Virtual struct {
	q   queue
	now time.Time
	ctx context.Context
}

// NewVirtual creates a Virtual scheduler whose clock starts at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start, ctx: context.Background()}
}

// Now returns the simulated time.
func (v *Virtual) Now() time.Time {
	v.q.mu.Lock()
	defer v.q.mu.Unlock()
	return v.now
}

// After schedules fn at Now()+d.
func (v *Virtual) After(d time.Duration, fn Task) *Timer {
	if d < 0 {
		d = 0
	}
	return v.q.push(v.Now().Add(d), fn)
}

// Advance moves the clock forward by d, running every task that falls due
// on the way in due order. Tasks scheduled by running tasks are included if
// they fall due before the new time.
func (v *Virtual) Advance(d time.Duration) {
	end := v.Now().Add(d)
	for {
		t := v.q.popDue(end)
		if t == nil {
			break
		}
		v.setNow(t.due)
		t.fn(v.ctx)
	}
	v.setNow(end)
}

// RunPending runs every task already due without moving the clock.
func (v *Virtual) RunPending() { v.Advance(0) }

// Pending returns the number of scheduled tasks.
func (v *Virtual) Pending() int { return v.q.len() }

func (v *Virtual) setNow(t time.Time) {
	v.q.mu.Lock()
	if t.After(v.now) {
		v.now = t
	}
	v.q.mu.Unlock()
}
