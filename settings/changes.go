package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Changes maps the sync keys that changed to their new values.
type Changes map[string]json.RawMessage

// Bool decodes key as a boolean. ok is false when the key did not change or
// does not hold a boolean.
func (c Changes) Bool(key string) (v, ok bool) {
	raw, present := c[key]
	if !present {
		return false, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	return v, true
}

// ErrNotWatchable is returned by Watch when the sync area cannot report
// writes made by other processes.
var ErrNotWatchable = errors.New("settings: sync area is not watchable")

// OnChanged registers fn for sync area changes and returns a function that
// removes it. fn runs on the writer's goroutine and must not block.
func (s *Store) OnChanged(fn func(Changes)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// publish records vals in the snapshot and notifies listeners of the keys
// whose value actually moved.
func (s *Store) publish(vals map[string]json.RawMessage) {
	s.mu.Lock()
	changed := make(Changes)
	for k, v := range vals {
		if old, ok := s.snapshot[k]; ok && bytes.Equal(old, v) {
			continue
		}
		s.snapshot[k] = v
		changed[k] = v
	}
	fns := make([]func(Changes), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	for _, fn := range fns {
		fn(changed)
	}
}

// Watch polls the sync area every interval for writes committed by other
// connections (another unclip process acting as the popup) and feeds them
// to OnChanged listeners. It blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, interval time.Duration) error {
	area, ok := s.sync.(*SQLiteArea)
	if !ok {
		return ErrNotWatchable
	}
	if interval <= 0 {
		interval = time.Second
	}
	conn, err := area.pin(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	version := func() (int64, error) {
		var v int64
		err := conn.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
		return v, err
	}

	// Seed the snapshot so only later writes are reported.
	if vals, err := s.sync.Get(ctx, syncKeys...); err == nil {
		s.mu.Lock()
		for k, v := range vals {
			if _, seen := s.snapshot[k]; !seen {
				s.snapshot[k] = v
			}
		}
		s.mu.Unlock()
	}
	// -1 forces a reload on the first tick, catching writes made between
	// the seed and the first poll.
	last := int64(-1)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Debug("settings: watch started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		cur, err := version()
		if err != nil {
			s.logger.Warn("settings: version check failed", "error", err)
			continue
		}
		if cur == last {
			continue
		}
		vals, err := s.sync.Get(ctx, syncKeys...)
		if err != nil {
			// Retry on the next tick with the old version.
			s.logger.Warn("settings: reload after change", "error", err)
			continue
		}
		last = cur
		s.publish(vals)
	}
}
