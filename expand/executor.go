// Package expand turns detected clipped messages into expanded ones.
//
// The Executor runs every step on the scheduler goroutine: rate limiting,
// the registry check, the chosen strategy, verification and retries. A
// message id is added to the Registry before any work starts, so a scan
// triggered by the executor's own DOM edits finds it and backs off.
package expand

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/unclip/detect"
	"github.com/hazyhaar/unclip/diag"
	"github.com/hazyhaar/unclip/dom"
	"github.com/hazyhaar/unclip/ratelimit"
	"github.com/hazyhaar/unclip/sched"
	"github.com/hazyhaar/unclip/settings"
)

// Strategy selects what happens to a hyperlink control.
type Strategy string

const (
	// StrategyInline fetches the full view and splices its body in place.
	StrategyInline Strategy = "inline"
	// StrategyNavigate loads the full view in the tab.
	StrategyNavigate Strategy = "navigate"
)

// ParseStrategy validates s. The empty string selects StrategyInline.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(s)) {
	case "", StrategyInline:
		return StrategyInline, nil
	case StrategyNavigate:
		return StrategyNavigate, nil
	}
	return "", fmt.Errorf("expand: unknown strategy %q", s)
}

// Kind is the strategy actually applied to one attempt.
type Kind string

const (
	KindFullView Kind = "full_view"
	KindInline   Kind = "inline"
	KindNavigate Kind = "navigate"
	KindClick    Kind = "click"
)

// Errors an attempt can end with. All of them are retried.
var (
	ErrStillClipped = errors.New("expand: message still clipped")
	ErrNoBody       = errors.New("expand: full view has no message body")
	ErrNoHref       = errors.New("expand: control has no target")
)

// MarkerAttr tags the "Expanded" badge.
const MarkerAttr = "data-gmail-expander"

const markerHTML = `<span ` + MarkerAttr + `="true" style="font-size:11px;color:#1a73e8;background:#e8f0fe;padding:2px 8px;border-radius:12px;margin-left:8px;font-weight:500">✓ Expanded</span>`

// Default cascades used by the strategies.
var (
	FullViewMarkers    = []string{"view=lg", "view=full"}
	IndicatorSelectors = []string{"div.iX", "div[data-message-clipped]"}
	BodySelectors      = []string{"div.a3s", "div.maincontent", `div[role="main"]`, "body"}
	SpliceSelectors    = []string{"div.a3s"}
	HeaderSelectors    = []string{`[role="heading"]`, ".gs", "*"}
)

// Counter is the usage bookkeeping the executor needs. settings.Store
// implements it.
type Counter interface {
	IncrementExpansionCount(ctx context.Context) error
	CanExpand(ctx context.Context, freeDailyLimit int) bool
}

// Sanitizer cleans fetched markup before it is spliced into the page.
// *bluemonday.Policy implements it.
type Sanitizer interface {
	Sanitize(html string) string
}

// Config wires an Executor.
type Config struct {
	Doc      dom.Document
	Sched    sched.Scheduler
	Limiter  *ratelimit.Limiter
	Counter  Counter
	Registry *Registry
	// Fetcher is required by StrategyInline.
	Fetcher Fetcher
	// Sanitizer, when set, cleans markup fetched by StrategyInline.
	Sanitizer Sanitizer
	Metrics   *Metrics
	Logger    *slog.Logger

	Strategy Strategy
	Retry    RetryPolicy
	// ClickPoll is the wait between a simulated click and its check.
	// Default: 1500ms.
	ClickPoll time.Duration
	// FreeDailyLimit caps expansions per day for non-premium users. 0
	// disables the cap.
	FreeDailyLimit int
	// Phrases mark a container as still clipped.
	Phrases []string
}

func (c *Config) defaults() {
	if c.Registry == nil {
		c.Registry = NewRegistry()
	}
	if c.Limiter == nil {
		c.Limiter = ratelimit.New(ratelimit.WithClock(c.Sched.Now))
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Strategy == "" {
		c.Strategy = StrategyInline
	}
	if c.Retry == (RetryPolicy{}) {
		c.Retry = DefaultRetryPolicy()
	}
	c.Retry.defaults()
	if c.ClickPoll <= 0 {
		c.ClickPoll = 1500 * time.Millisecond
	}
	if len(c.Phrases) == 0 {
		c.Phrases = detect.DefaultSelectors().Phrases
	}
}

// Executor performs expansion attempts. It implements detect.Sink.
type Executor struct {
	cfg Config
	log *slog.Logger
}

// NewExecutor creates an Executor. Doc and Sched are required.
func NewExecutor(cfg Config) *Executor {
	cfg.defaults()
	return &Executor{cfg: cfg, log: cfg.Logger}
}

// Registry returns the registry consulted before every attempt.
func (e *Executor) Registry() *Registry { return e.cfg.Registry }

// Limiter returns the rate limiter.
func (e *Executor) Limiter() *ratelimit.Limiter { return e.cfg.Limiter }

// Expand attempts to expand c. It returns at once; outcomes show up in
// the page, the counters and the log. A rate-limited call is retried
// after the window resets with the same attempt number.
func (e *Executor) Expand(ctx context.Context, c detect.Candidate, attempt int) {
	id := MessageID(c.Container)
	log := e.log.With("message", id, "attempt", attempt)

	if e.cfg.Registry.Has(id) {
		log.Debug("expand: already attempted, skipping")
		return
	}

	if !e.cfg.Limiter.CanExpand() {
		st := e.cfg.Limiter.Status()
		log.Warn("expand: rate limited", "remaining", st.Remaining, "reset_in", st.ResetIn)
		e.cfg.Metrics.limited()
		e.cfg.Sched.After(st.ResetIn, func(ctx context.Context) {
			e.Expand(ctx, c, attempt)
		})
		return
	}

	e.cfg.Registry.Add(id)

	if e.cfg.FreeDailyLimit > 0 && e.cfg.Counter != nil && !e.cfg.Counter.CanExpand(ctx, e.cfg.FreeDailyLimit) {
		log.Warn("expand: skipped", "error", settings.ErrQuota, "limit", e.cfg.FreeDailyLimit)
		e.cfg.Metrics.skipped()
		return
	}

	e.attempt(ctx, c, id, attempt, log)
}

func (e *Executor) attempt(ctx context.Context, c detect.Candidate, id string, attempt int, log *slog.Logger) {
	kind := e.choose(c)
	log = log.With("strategy", kind)
	e.cfg.Metrics.attempt(kind)
	log.Debug("expand: attempting")

	finished := false
	finish := func(ctx context.Context, err error) {
		if finished {
			return
		}
		finished = true
		e.finish(ctx, c, id, attempt, kind, err, log)
	}
	defer func() {
		if r := recover(); r != nil {
			finish(ctx, fmt.Errorf("expand: panic: %v", r))
		}
	}()

	switch kind {
	case KindFullView:
		err := e.removeIndicator(c)
		e.cfg.Limiter.RecordExpansion()
		finish(ctx, e.verified(c, err))

	case KindNavigate:
		err := e.navigate(ctx, c)
		e.cfg.Limiter.RecordExpansion()
		finish(ctx, err)

	case KindInline:
		finish(ctx, e.inline(ctx, c))

	case KindClick:
		if err := c.Control.Click(); err != nil {
			finish(ctx, fmt.Errorf("expand: click: %w", err))
			return
		}
		e.cfg.Limiter.RecordExpansion()
		e.cfg.Sched.After(e.cfg.ClickPoll, func(ctx context.Context) {
			defer func() {
				if r := recover(); r != nil {
					finish(ctx, fmt.Errorf("expand: panic: %v", r))
				}
			}()
			finish(ctx, e.verified(c, nil))
		})
	}
}

func (e *Executor) choose(c detect.Candidate) Kind {
	page := e.cfg.Doc.URL()
	for _, m := range FullViewMarkers {
		if strings.Contains(page, m) {
			return KindFullView
		}
	}
	if href, ok := c.Control.Attr("href"); ok && href != "" && c.Control.Tag() == "a" {
		if e.cfg.Strategy == StrategyNavigate {
			return KindNavigate
		}
		return KindInline
	}
	return KindClick
}

func (e *Executor) target(c detect.Candidate) (string, error) {
	href, _ := c.Control.Attr("href")
	if href == "" {
		return "", ErrNoHref
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("expand: bad href: %w", err)
	}
	base, err := url.Parse(e.cfg.Doc.URL())
	if err != nil || !base.IsAbs() {
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}

func (e *Executor) navigate(ctx context.Context, c detect.Candidate) error {
	to, err := e.target(c)
	if err != nil {
		return err
	}
	if err := e.cfg.Doc.Navigate(ctx, to); err != nil {
		return fmt.Errorf("expand: navigate: %w", err)
	}
	return nil
}

func (e *Executor) inline(ctx context.Context, c detect.Candidate) error {
	if e.cfg.Fetcher == nil {
		return errors.New("expand: inline strategy without a fetcher")
	}
	to, err := e.target(c)
	if err != nil {
		return err
	}
	raw, err := e.cfg.Fetcher.Fetch(ctx, to)
	e.cfg.Limiter.RecordExpansion()
	if err != nil {
		return err
	}

	page, err := dom.Parse(to, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	found, _, err := dom.FirstMatch(page, BodySelectors...)
	if err != nil {
		return err
	}
	body, ok := found.(*dom.StaticElement)
	if !ok || body == nil {
		return ErrNoBody
	}
	markup := body.InnerHTML()
	if e.cfg.Sanitizer != nil {
		markup = e.cfg.Sanitizer.Sanitize(markup)
	}

	dst, _, err := dom.FirstMatch(c.Container, SpliceSelectors...)
	if err != nil {
		return err
	}
	if dst == nil {
		dst = c.Container
	}
	if err := dst.SetHTML(markup); err != nil {
		return fmt.Errorf("expand: splice: %w", err)
	}
	return e.verified(c, e.removeIndicator(c))
}

// removeIndicator drops the "clipped" notice: the indicator cascade first,
// the control itself if nothing else matches.
func (e *Executor) removeIndicator(c detect.Candidate) error {
	el, _, err := dom.FirstMatch(c.Container, IndicatorSelectors...)
	if err != nil {
		return err
	}
	if el == nil {
		el = c.Control
	}
	if err := el.Remove(); err != nil {
		return fmt.Errorf("expand: remove indicator: %w", err)
	}
	return nil
}

func (e *Executor) verified(c detect.Candidate, err error) error {
	if err != nil {
		return err
	}
	if detect.IsClipped(c.Container, e.cfg.Phrases) {
		return ErrStillClipped
	}
	return nil
}

func (e *Executor) finish(ctx context.Context, c detect.Candidate, id string, attempt int, kind Kind, err error, log *slog.Logger) {
	if err == nil {
		e.cfg.Metrics.success(kind)
		if e.cfg.Counter != nil {
			if cerr := e.cfg.Counter.IncrementExpansionCount(ctx); cerr != nil {
				log.Warn("expand: counter write failed", "error", cerr)
			}
		}
		if kind != KindNavigate {
			if merr := markExpanded(c.Container); merr != nil {
				log.Warn("expand: marker", "error", merr)
			}
		}
		diag.Success(log, "expand: message expanded")
		return
	}

	if e.cfg.Retry.Retryable(attempt) {
		e.cfg.Metrics.failure(kind, false)
		wait := e.cfg.Retry.Backoff(attempt)
		log.Warn("expand: attempt failed, retrying", "error", err, "retry", attempt+1, "max_retries", e.cfg.Retry.MaxRetries, "in", wait)
		e.cfg.Registry.Remove(id)
		e.cfg.Sched.After(wait, func(ctx context.Context) {
			e.Expand(ctx, c, attempt+1)
		})
		return
	}

	e.cfg.Metrics.failure(kind, true)
	log.Error("expand: giving up", "error", err)
}

// markExpanded adds the badge once per container.
func markExpanded(container dom.Element) error {
	existing, err := dom.First(container, "["+MarkerAttr+"]")
	if err != nil || existing != nil {
		return err
	}
	header, _, err := dom.FirstMatch(container, HeaderSelectors...)
	if err != nil {
		return err
	}
	if header == nil {
		header = container
	}
	return header.AppendHTML(markerHTML)
}
