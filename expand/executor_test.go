package expand_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/unclip/detect"
	"github.com/hazyhaar/unclip/dom"
	"github.com/hazyhaar/unclip/expand"
	"github.com/hazyhaar/unclip/ratelimit"
	"github.com/hazyhaar/unclip/sched"
	"github.com/hazyhaar/unclip/settings"
)

const inboxURL = "https://mail.google.com/mail/u/0/#inbox"

var t0 = time.Date(2026, 5, 6, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	doc   *dom.Static
	v     *sched.Virtual
	store *settings.Store
	local *settings.MemoryArea
	exec  *expand.Executor
	reg   *prometheus.Registry
}

func newFixture(t *testing.T, pageURL, src string, tune func(*expand.Config)) *fixture {
	t.Helper()
	doc, err := dom.ParseString(pageURL, src)
	if err != nil {
		t.Fatal(err)
	}
	v := sched.NewVirtual(t0)
	local := settings.NewMemoryArea()
	store := settings.New(settings.NewMemoryArea(), local, settings.WithClock(v.Now))
	reg := prometheus.NewRegistry()

	cfg := expand.Config{
		Doc:     doc,
		Sched:   v,
		Counter: store,
		Metrics: expand.NewMetrics(reg),
		Fetcher: failFetcher{t},
	}
	if tune != nil {
		tune(&cfg)
	}
	return &fixture{t: t, doc: doc, v: v, store: store, local: local, exec: expand.NewExecutor(cfg), reg: reg}
}

// candidates scans the page without expanding.
func (f *fixture) candidates() []detect.Candidate {
	f.t.Helper()
	var got collect
	if _, err := detect.New(f.doc, &got).Scan(context.Background()); err != nil {
		f.t.Fatal(err)
	}
	return got
}

func (f *fixture) expandAll() {
	for _, c := range f.candidates() {
		f.exec.Expand(context.Background(), c, 0)
	}
}

func (f *fixture) expandCount() int { return f.store.Get(context.Background()).ExpandCount }

type collect []detect.Candidate

func (c *collect) Expand(_ context.Context, cand detect.Candidate, _ int) { *c = append(*c, cand) }

type failFetcher struct{ t *testing.T }

func (f failFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.t.Error("unexpected fetch")
	return nil, errors.New("no network")
}

func clippedArticle(id, href string) string {
	return fmt.Sprintf(`<div role="article" data-message-id="%s">
		<div role="heading">Weekly digest</div>
		<div class="a3s">Hello there, the beginning of a long newsletter...
			<div class="iX">[Message clipped]&nbsp;&nbsp;<a href="%s" target="_blank">View entire message</a></div>
		</div>
	</div>`, id, href)
}

func page(articles ...string) string {
	return `<html><body><div role="main">` + strings.Join(articles, "\n") + `</div></body></html>`
}

func TestExpand_InlineFetchSplicesBody(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Query().Get("view") != "lg" {
			t.Errorf("fetched %s", r.URL)
		}
		fmt.Fprint(w, `<html><body><table><tr><td>
			<div class="maincontent"><div class="a3s"><p>The full newsletter body.</p><script>alert(1)</script></div></div>
		</td></tr></table></body></html>`)
	}))
	defer srv.Close()

	href := srv.URL + "/mail/u/0/?ui=2&view=lg&msg=m1"
	f := newFixture(t, inboxURL, page(clippedArticle("m1", href)), func(c *expand.Config) {
		c.Fetcher = expand.NewHTTPFetcher()
		c.Sanitizer = bluemonday.UGCPolicy()
	})

	f.expandAll()

	if hits != 1 {
		t.Fatalf("fetches = %d, want 1", hits)
	}
	out := f.doc.HTML()
	if !strings.Contains(out, "The full newsletter body.") {
		t.Errorf("body not spliced:\n%s", out)
	}
	if strings.Contains(out, "<script>") {
		t.Error("fetched markup not sanitized")
	}
	if strings.Contains(out, "[Message clipped]") {
		t.Error("clipped indicator still present")
	}
	if strings.Count(out, expand.MarkerAttr) != 1 {
		t.Errorf("markers = %d, want 1", strings.Count(out, expand.MarkerAttr))
	}
	if got := f.expandCount(); got != 1 {
		t.Errorf("expandCount = %d, want 1", got)
	}
	if !f.exec.Registry().Has("m1") {
		t.Error("id not registered after success")
	}
	if got := f.counter("unclip_expansion_success_total"); got != 1 {
		t.Errorf("success metric = %v, want 1", got)
	}
}

func TestHTTPFetcher_UserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.UserAgent()
		fmt.Fprint(w, "<p>ok</p>")
	}))
	defer srv.Close()

	f := expand.NewHTTPFetcher(expand.WithUserAgent("unclip-test/2"))
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "<p>ok</p>" || ua != "unclip-test/2" {
		t.Errorf("body %q, user agent %q", body, ua)
	}

	if _, err := expand.NewHTTPFetcher(expand.WithUserAgent("")).Fetch(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ua, "unclip/1.0") {
		t.Errorf("empty user agent replaced the default: %q", ua)
	}
}

func TestExpand_AlreadyFullViewRemovesIndicatorOnly(t *testing.T) {
	f := newFixture(t, "https://mail.google.com/mail/u/0/?ui=2&view=lg&msg=m1",
		page(clippedArticle("m1", "https://mail.google.com/mail/u/0/?ui=2&view=lg&msg=m1")), nil)

	f.expandAll()

	out := f.doc.HTML()
	if strings.Contains(out, `class="iX"`) || strings.Contains(out, "[Message clipped]") {
		t.Errorf("indicator not removed:\n%s", out)
	}
	if !strings.Contains(out, "Hello there") {
		t.Error("message body was touched")
	}
	if got := f.expandCount(); got != 1 {
		t.Errorf("expandCount = %d, want 1", got)
	}
}

func TestExpand_RegisteredIsNoop(t *testing.T) {
	f := newFixture(t, "https://mail.google.com/mail/?view=lg", page(clippedArticle("m1", "?view=lg")), nil)
	c := f.candidates()
	if len(c) != 1 {
		t.Fatalf("candidates = %d", len(c))
	}

	f.exec.Expand(context.Background(), c[0], 0)
	f.exec.Expand(context.Background(), c[0], 0)
	f.v.Advance(10 * time.Second)

	if got := f.expandCount(); got != 1 {
		t.Errorf("expandCount = %d, want 1", got)
	}
}

func TestExpand_RetryBound(t *testing.T) {
	src := page(`<div role="article" data-message-id="b1">Show trimmed content
		<button aria-label="Show trimmed content">...</button></div>`)
	f := newFixture(t, inboxURL, src, nil)
	clicks := 0
	f.doc.OnClick = func(*dom.StaticElement) error { clicks++; return nil }

	f.expandAll()
	f.v.Advance(time.Minute)

	if clicks != 3 {
		t.Errorf("attempts = %d, want 3", clicks)
	}
	if !f.exec.Registry().Has("b1") {
		t.Error("terminal failure must stay registered")
	}
	if f.v.Pending() != 0 {
		t.Errorf("pending tasks = %d after giving up", f.v.Pending())
	}
	if got := f.counter("unclip_expansion_attempts_total"); got != 3 {
		t.Errorf("attempt metric = %v, want 3", got)
	}

	// A later scan does not start over.
	f.expandAll()
	f.v.Advance(time.Minute)
	if clicks != 3 {
		t.Errorf("attempts after rescan = %d", clicks)
	}
}

func TestExpand_RetryTiming(t *testing.T) {
	src := page(`<div role="article" data-message-id="b1">Show trimmed content
		<button aria-label="Show trimmed content">...</button></div>`)
	f := newFixture(t, inboxURL, src, nil)
	var at []time.Duration
	f.doc.OnClick = func(*dom.StaticElement) error {
		at = append(at, f.v.Now().Sub(t0))
		return nil
	}

	f.expandAll()
	f.v.Advance(time.Minute)

	// click, 1.5s poll, 1s backoff, click...
	want := []time.Duration{0, 2500 * time.Millisecond, 5 * time.Second}
	if fmt.Sprint(at) != fmt.Sprint(want) {
		t.Errorf("click times = %v, want %v", at, want)
	}
}

func TestExpand_ClickSucceedsAfterPoll(t *testing.T) {
	src := page(`<div role="article" data-message-id="b1"><div role="heading">Subj</div>
		<div class="trim">Show trimmed content</div>
		<button aria-label="Show trimmed content">...</button></div>`)
	f := newFixture(t, inboxURL, src, nil)
	f.doc.OnClick = func(*dom.StaticElement) error {
		el, _ := dom.First(f.doc, "div.trim")
		return el.Remove()
	}

	f.expandAll()
	if f.expandCount() != 0 {
		t.Fatal("success recorded before the poll")
	}
	f.v.Advance(1500 * time.Millisecond)

	if got := f.expandCount(); got != 1 {
		t.Errorf("expandCount = %d, want 1", got)
	}
	if !strings.Contains(f.doc.HTML(), expand.MarkerAttr) {
		t.Error("marker missing")
	}
}

func TestExpand_RateLimitDefersWithoutRetryCost(t *testing.T) {
	src := page(clippedArticle("m1", "?view=lg"), clippedArticle("m2", "?view=lg"))
	f := newFixture(t, "https://mail.google.com/mail/?view=lg", src, func(c *expand.Config) {
		c.Limiter = ratelimit.New(ratelimit.WithCapacity(1), ratelimit.WithClock(c.Sched.Now))
	})

	f.expandAll()
	if got := f.expandCount(); got != 1 {
		t.Fatalf("expandCount = %d, want 1 before the window resets", got)
	}
	if f.exec.Registry().Has("m2") {
		t.Error("deferred message registered before its attempt")
	}
	if f.v.Pending() != 1 {
		t.Errorf("pending = %d, want the deferred call", f.v.Pending())
	}

	f.v.Advance(time.Second)
	if got := f.expandCount(); got != 2 {
		t.Errorf("expandCount = %d after reset, want 2", got)
	}
	if got := f.counter("unclip_expansion_rate_limited_total"); got != 1 {
		t.Errorf("rate limited = %v", got)
	}
}

// counter sums every series of the named counter.
func (f *fixture) counter(name string) float64 {
	f.t.Helper()
	mfs, err := f.reg.Gather()
	if err != nil {
		f.t.Fatal(err)
	}
	var total float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestExpand_CounterFailureDoesNotBlockMarker(t *testing.T) {
	f := newFixture(t, "https://mail.google.com/mail/?view=lg", page(clippedArticle("m1", "?view=lg")), nil)
	f.local.SetErr = errors.New("quota exceeded")

	f.expandAll()

	if !strings.Contains(f.doc.HTML(), expand.MarkerAttr) {
		t.Error("marker blocked by counter failure")
	}
	if !f.exec.Registry().Has("m1") {
		t.Error("id not registered")
	}
	if f.v.Pending() != 0 {
		t.Error("counter failure scheduled a retry")
	}
}

func TestExpand_NavigateStrategy(t *testing.T) {
	href := "https://mail.google.com/mail/u/0/?ui=2&view=lg&msg=m1"
	f := newFixture(t, inboxURL, page(clippedArticle("m1", href)), func(c *expand.Config) {
		c.Strategy = expand.StrategyNavigate
	})
	var went string
	f.doc.OnNavigate = func(_ context.Context, url string) error { went = url; return nil }

	f.expandAll()

	if went != href {
		t.Errorf("navigated to %q", went)
	}
	if got := f.expandCount(); got != 1 {
		t.Errorf("expandCount = %d", got)
	}
	if strings.Contains(f.doc.HTML(), expand.MarkerAttr) {
		t.Error("navigate must not add a marker")
	}
}

func TestExpand_RelativeHrefResolved(t *testing.T) {
	f := newFixture(t, inboxURL, page(clippedArticle("m1", "/mail/u/0/?view=lg&msg=m1")), func(c *expand.Config) {
		c.Strategy = expand.StrategyNavigate
	})
	var went string
	f.doc.OnNavigate = func(_ context.Context, url string) error { went = url; return nil }
	f.expandAll()
	if went != "https://mail.google.com/mail/u/0/?view=lg&msg=m1" {
		t.Errorf("navigated to %q", went)
	}
}

func TestExpand_FetchErrorRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newFixture(t, inboxURL, page(clippedArticle("m1", srv.URL+"/?view=lg")), func(c *expand.Config) {
		c.Fetcher = expand.NewHTTPFetcher()
	})
	f.expandAll()
	f.v.Advance(time.Minute)

	if calls != 3 {
		t.Errorf("fetches = %d, want 3", calls)
	}
	if f.expandCount() != 0 {
		t.Error("failure counted as expansion")
	}
	if got := f.counter("unclip_expansion_failures_total"); got != 3 {
		t.Errorf("failure metric = %v, want 3", got)
	}
}

func TestExpand_DailyQuota(t *testing.T) {
	f := newFixture(t, "https://mail.google.com/mail/?view=lg", page(clippedArticle("m1", "?view=lg")), func(c *expand.Config) {
		c.FreeDailyLimit = 1
	})
	if err := f.store.IncrementExpansionCount(context.Background()); err != nil {
		t.Fatal(err)
	}

	f.expandAll()

	if f.expandCount() != 1 {
		t.Errorf("expandCount = %d, want unchanged 1", f.expandCount())
	}
	if !f.exec.Registry().Has("m1") {
		t.Error("quota-skipped id must stay registered")
	}
	if !strings.Contains(f.doc.HTML(), "[Message clipped]") {
		t.Error("message expanded past the quota")
	}
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]expand.Strategy{"": expand.StrategyInline, "INLINE": expand.StrategyInline, "navigate": expand.StrategyNavigate} {
		got, err := expand.ParseStrategy(in)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := expand.ParseStrategy("teleport"); err == nil {
		t.Error("unknown strategy accepted")
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := expand.RetryPolicy{MaxRetries: 3, Delay: time.Second, Multiplier: 2}
	if got := p.Backoff(0); got != time.Second {
		t.Errorf("Backoff(0) = %v", got)
	}
	if got := p.Backoff(2); got != 4*time.Second {
		t.Errorf("Backoff(2) = %v", got)
	}
	if !p.Retryable(2) || p.Retryable(3) {
		t.Error("Retryable bound off by one")
	}
	d := expand.DefaultRetryPolicy()
	if d.MaxRetries != 2 || d.Delay != time.Second || d.Backoff(1) != time.Second {
		t.Errorf("default policy = %+v", d)
	}
}

// brittleText panics on Text while armed, like a node detached mid-check.
type brittleText struct {
	dom.Element
	armed bool
}

func (b *brittleText) Text() string {
	if b.armed {
		b.armed = false
		panic("node detached")
	}
	return b.Element.Text()
}

func TestExpand_ClickPollPanicRetries(t *testing.T) {
	src := page(`<div role="article" data-message-id="b1"><div role="heading">Subj</div>
		<div class="trim">Show trimmed content</div>
		<button aria-label="Show trimmed content">...</button></div>`)
	f := newFixture(t, inboxURL, src, nil)
	cands := f.candidates()
	if len(cands) != 1 {
		t.Fatalf("candidates = %d", len(cands))
	}
	c := cands[0]
	container := &brittleText{Element: c.Container}
	c.Container = container

	clicks := 0
	f.doc.OnClick = func(*dom.StaticElement) error {
		clicks++
		if clicks == 1 {
			container.armed = true
			return nil
		}
		el, _ := dom.First(f.doc, "div.trim")
		return el.Remove()
	}

	f.exec.Expand(context.Background(), c, 0)
	f.v.Advance(time.Minute)

	if clicks != 2 {
		t.Errorf("clicks = %d, want 2 (panic counts as a failed attempt)", clicks)
	}
	if got := f.expandCount(); got != 1 {
		t.Errorf("expandCount = %d, want 1", got)
	}
	if f.v.Pending() != 0 {
		t.Errorf("pending tasks = %d", f.v.Pending())
	}
}
