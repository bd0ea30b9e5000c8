// Package diag is the expander's diagnostic log. It wraps an slog.Handler so
// that Debug, Info and Warn records pass only while debugMode is on; errors
// always pass. License keys never reach the output.
package diag

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/hazyhaar/unclip/settings"
)

// Component is the attribute every record carries.
const Component = "unclip"

// Redacted replaces license key values.
const Redacted = "***REDACTED***"

// Handler gates records on a shared debug switch.
type Handler struct {
	base  slog.Handler
	debug *atomic.Bool
}

// New wraps base. Debug starts off.
func New(base slog.Handler) *Handler {
	if base == nil {
		base = slog.Default().Handler()
	}
	return &Handler{
		base:  base.WithAttrs([]slog.Attr{slog.String("component", Component)}),
		debug: new(atomic.Bool),
	}
}

// Logger is shorthand for slog.New(h).
func (h *Handler) Logger() *slog.Logger { return slog.New(h) }

// SetDebug flips the switch for h and every handler derived from it.
func (h *Handler) SetDebug(on bool) { h.debug.Store(on) }

// Debug reports the switch.
func (h *Handler) Debug() bool { return h.debug.Load() }

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < slog.LevelError && !h.debug.Load() {
		return false
	}
	return h.base.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redact(a))
		return true
	})
	return h.base.Handle(ctx, out)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = redact(a)
	}
	return &Handler{base: h.base.WithAttrs(clean), debug: h.debug}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{base: h.base.WithGroup(name), debug: h.debug}
}

func redact(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		clean := make([]slog.Attr, len(group))
		for i, g := range group {
			clean[i] = redact(g)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
	}
	k := strings.ToLower(a.Key)
	if strings.Contains(k, "licensekey") || strings.Contains(k, "license_key") || strings.Contains(k, "secret") {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// Source is the part of settings.Store that Bind needs.
type Source interface {
	Get(ctx context.Context) settings.Settings
	OnChanged(fn func(settings.Changes)) (cancel func())
}

// Bind loads debugMode from src and follows later changes. The returned
// function stops following.
func (h *Handler) Bind(ctx context.Context, src Source) (cancel func()) {
	h.SetDebug(src.Get(ctx).DebugMode)
	return src.OnChanged(func(c settings.Changes) {
		if v, ok := c.Bool(settings.KeyDebugMode); ok {
			h.SetDebug(v)
		}
	})
}

// Success logs a completed operation at Info with outcome=success.
func Success(l *slog.Logger, msg string, args ...any) {
	l.Info(msg, append(args, "outcome", "success")...)
}
