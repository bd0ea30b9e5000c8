package expand

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/unclip/detect"
	"github.com/hazyhaar/unclip/observe"
	"github.com/hazyhaar/unclip/sched"
	"github.com/hazyhaar/unclip/settings"
)

// Preferences is the settings surface a Session follows.
type Preferences interface {
	Get(ctx context.Context) settings.Settings
	OnChanged(fn func(settings.Changes)) (cancel func())
}

// SessionConfig wires a Session. The embedded Config configures the
// executor; Counter defaults to Preferences when it implements Counter.
type SessionConfig struct {
	Config
	Preferences Preferences
	Selectors   detect.Selectors
	// Debounce is the mutation quiet period. Default: 500ms.
	Debounce time.Duration
}

// Session is the expansion state of one page: registry, limiter, executor,
// engine and the mutation debouncer. Its methods post onto the scheduler
// and are safe from any goroutine.
type Session struct {
	prefs  Preferences
	sched  sched.Scheduler
	exec   *Executor
	engine *detect.Engine
	obs    *observe.Debouncer

	// Owned by the scheduler goroutine.
	enabled bool
	unsub   func()
	last    detect.Report
	scans   int
}

// NewSession creates a Session. Nothing happens until Start.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Counter == nil {
		if c, ok := cfg.Preferences.(Counter); ok {
			cfg.Counter = c
		}
	}
	exec := NewExecutor(cfg.Config)
	s := &Session{
		prefs: cfg.Preferences,
		sched: cfg.Sched,
		exec:  exec,
	}
	s.engine = detect.New(cfg.Doc, exec,
		detect.WithSelectors(cfg.Selectors),
		detect.WithLogger(exec.log))
	s.obs = observe.New(cfg.Sched, s.scan, observe.Config{Quiet: cfg.Debounce})
	return s
}

// Executor returns the executor.
func (s *Session) Executor() *Executor { return s.exec }

// Start loads the settings, runs the first scan and begins observing, or
// stays idle when auto-expand is off. It follows later changes to
// autoExpandEnabled.
func (s *Session) Start() {
	sched.Post(s.sched, func(ctx context.Context) {
		s.exec.log.Debug("expand: session starting")
		s.unsub = s.prefs.OnChanged(func(c settings.Changes) {
			if v, ok := c.Bool(settings.KeyAutoExpand); ok {
				sched.Post(s.sched, func(ctx context.Context) { s.setEnabled(ctx, v) })
			}
		})
		on := s.prefs.Get(ctx).AutoExpandEnabled
		if !on {
			s.exec.log.Debug("expand: auto-expand is disabled")
		}
		s.setEnabled(ctx, on)
	})
}

// Stop detaches from settings and pauses observation.
func (s *Session) Stop() {
	sched.Post(s.sched, func(context.Context) {
		if s.unsub != nil {
			s.unsub()
			s.unsub = nil
		}
		s.enabled = false
		s.obs.Pause()
	})
}

func (s *Session) setEnabled(ctx context.Context, on bool) {
	if on == s.enabled {
		return
	}
	s.enabled = on
	if !on {
		s.exec.log.Debug("expand: auto-expand is disabled")
		s.obs.Pause()
		return
	}
	s.scan(ctx)
	s.obs.Resume()
}

// Notify reports page mutations.
func (s *Session) Notify() { s.obs.Notify() }

// PageLoaded ends the page lifetime: the registry is cleared and, when
// enabled, the new page is scanned.
func (s *Session) PageLoaded() {
	sched.Post(s.sched, func(ctx context.Context) {
		s.exec.Registry().Reset()
		if s.enabled {
			s.scan(ctx)
		}
	})
}

// Follow feeds mutation and page-load notifications into the session
// until ctx is cancelled or both channels are closed.
func (s *Session) Follow(ctx context.Context, mutations, loads <-chan struct{}) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.obs.Pump(ctx, mutations) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case _, ok := <-loads:
				if !ok {
					return nil
				}
				s.PageLoaded()
			}
		}
	})
	return g.Wait()
}

func (s *Session) scan(ctx context.Context) {
	rep, err := s.engine.Scan(ctx)
	if err != nil {
		s.exec.log.Warn("expand: scan failed", "error", err)
		return
	}
	s.last = rep
	s.scans++
	if rep.Clipped > 0 {
		s.exec.log.Info("expand: found clipped messages", "count", rep.Clipped)
	}
}

// LastReport returns the most recent scan report and the number of scans.
// Call it from the scheduler goroutine or after the scheduler has stopped.
func (s *Session) LastReport() (detect.Report, int) { return s.last, s.scans }
