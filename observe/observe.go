// Package observe turns bursts of page mutations into single scans. Every
// notification restarts a quiet-period timer on the scheduler; the scan
// runs once the page has been still for the whole period.
package observe

import (
	"context"
	"sync"
	"time"

	"github.com/hazyhaar/unclip/sched"
)

// DefaultQuiet is the quiet period before a scan.
const DefaultQuiet = 500 * time.Millisecond

// Config tunes a Debouncer.
type Config struct {
	// Quiet is the time without mutations before Scan runs. Default: 500ms.
	Quiet time.Duration
}

func (c *Config) defaults() {
	if c.Quiet <= 0 {
		c.Quiet = DefaultQuiet
	}
}

// Debouncer schedules scan after mutations settle. At most one scan is
// pending at any time.
type Debouncer struct {
	cfg   Config
	sched sched.Scheduler
	scan  sched.Task

	mu     sync.Mutex
	timer  *sched.Timer
	gen    uint64
	paused bool
	fires  int
}

// New creates a Debouncer running scan on s. It starts paused.
func New(s sched.Scheduler, scan sched.Task, cfg Config) *Debouncer {
	cfg.defaults()
	return &Debouncer{cfg: cfg, sched: s, scan: scan, paused: true}
}

// Notify records a mutation burst. The pending scan, if any, is cancelled
// and replaced. Safe from any goroutine.
func (d *Debouncer) Notify() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused {
		return
	}
	d.timer.Stop()
	d.gen++
	gen := d.gen
	d.timer = d.sched.After(d.cfg.Quiet, func(ctx context.Context) { d.fire(ctx, gen) })
}

// fire runs the scan armed by the Notify of generation gen. A Notify that
// lands after the task left the queue has armed a newer timer, which stays.
func (d *Debouncer) fire(ctx context.Context, gen uint64) {
	d.mu.Lock()
	if gen == d.gen {
		d.timer = nil
	}
	if d.paused {
		d.mu.Unlock()
		return
	}
	d.fires++
	d.mu.Unlock()
	d.scan(ctx)
}

// Resume starts reacting to Notify.
func (d *Debouncer) Resume() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
}

// Pause drops the pending scan and ignores Notify until Resume.
func (d *Debouncer) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
	d.timer.Stop()
	d.timer = nil
}

// Fires returns how many scans the debouncer has run.
func (d *Debouncer) Fires() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fires
}

// Pump calls Notify for every value received on mutations until ctx is
// cancelled or the channel is closed.
func (d *Debouncer) Pump(ctx context.Context, mutations <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-mutations:
			if !ok {
				return nil
			}
			d.Notify()
		}
	}
}
