// Package detect finds clipped messages on a page and hands their expand
// controls to an expander.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/unclip/dom"
)

// Candidate is a clipped message and the control that should expand it.
type Candidate struct {
	Control   dom.Element
	Container dom.Element
}

// Sink receives candidates. The executor is the production Sink.
type Sink interface {
	Expand(ctx context.Context, c Candidate, attempt int)
}

// Report counts what one scan saw.
type Report struct {
	Containers     int `json:"containers"`
	Clipped        int `json:"clipped"`
	Enqueued       int `json:"enqueued"`
	MissingControl int `json:"missing_control"`
}

// Engine scans a document.
type Engine struct {
	doc    dom.Document
	sink   Sink
	sel    Selectors
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSelectors overrides the cascades. Empty lists keep the defaults.
func WithSelectors(s Selectors) Option { return func(e *Engine) { e.sel = s.WithDefaults() } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New creates an Engine feeding sink.
func New(doc dom.Document, sink Sink, opts ...Option) *Engine {
	e := &Engine{doc: doc, sink: sink, sel: DefaultSelectors(), logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Selectors returns the cascades in use.
func (e *Engine) Selectors() Selectors { return e.sel }

// Scan walks the page once. Each expand control is handed to the sink at
// most once per scan, even when nested containers share it.
func (e *Engine) Scan(ctx context.Context) (Report, error) {
	var rep Report
	e.logger.Debug("detect: scanning for clipped messages")

	root, _, err := dom.FirstMatch(e.doc, e.sel.Roots...)
	if err != nil {
		return rep, fmt.Errorf("detect: root: %w", err)
	}
	if root == nil {
		e.logger.Warn("detect: main content area not found")
		return rep, nil
	}

	containers, err := dom.Union(root, e.sel.Containers...)
	if err != nil {
		return rep, fmt.Errorf("detect: containers: %w", err)
	}
	rep.Containers = len(containers)

	handed := make(map[string]bool)
	for _, c := range containers {
		if !IsClipped(c, e.sel.Phrases) {
			continue
		}
		rep.Clipped++

		control, _, err := dom.FirstMatch(c, e.sel.Controls...)
		if err != nil {
			e.logger.Warn("detect: control lookup failed", "error", err)
			rep.MissingControl++
			continue
		}
		if control == nil {
			e.logger.Warn("detect: clipped message without expand control")
			rep.MissingControl++
			continue
		}
		if handed[control.Key()] {
			continue
		}
		handed[control.Key()] = true
		rep.Enqueued++
		e.sink.Expand(ctx, Candidate{Control: control, Container: c}, 0)
	}

	e.logger.Debug("detect: scan done", "containers", rep.Containers, "clipped", rep.Clipped, "enqueued", rep.Enqueued)
	return rep, nil
}

// IsClipped reports whether el's text carries any of phrases.
func IsClipped(el dom.Element, phrases []string) bool {
	text := el.Text()
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
