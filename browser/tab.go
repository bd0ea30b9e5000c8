package browser

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/unclip/dom"
	"github.com/hazyhaar/unclip/expand"
)

//go:embed bridge.js
var bridgeJS string

const navigateTimeout = 30 * time.Second

// inPageFetch reads a same-origin page with the tab's cookies.
const inPageFetch = `async (u) => {
	const r = await fetch(u, { credentials: 'include' });
	if (!r.ok) throw new Error('status ' + r.status);
	return await r.text();
}`

var (
	_ dom.Document   = (*Tab)(nil)
	_ expand.Fetcher = (*Tab)(nil)
)

// Tab is a Chrome tab seen as a dom.Document. It also fetches full-view
// pages through the tab so the Gmail session applies.
type Tab struct {
	page    *rod.Page
	router  *rod.HijackRouter
	sig     *signals
	cancel  context.CancelFunc
	manager *Manager
}

// OpenTab creates a tab, installs the mutation bridge and navigates to
// pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	log := mgr.cfg.Logger

	var page *rod.Page
	var err error
	if mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{page: page, sig: newSignals(), manager: mgr}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.router = applyResourceBlocking(page, mgr.cfg.ResourceBlocking)
	}

	if err := t.installBridge(); err != nil {
		t.Close()
		return nil, err
	}
	lctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.listen(lctx)

	if pageURL != "" {
		if err := t.Navigate(ctx, pageURL); err != nil {
			t.Close()
			return nil, err
		}
	}
	log.Info("browser: tab ready", "url", pageURL, "stealth", mgr.cfg.Stealth)
	return t, nil
}

func (t *Tab) installBridge() error {
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(t.page); err != nil {
		return fmt.Errorf("browser: add binding: %w", err)
	}
	if _, err := t.page.EvalOnNewDocument(newDocumentScript()); err != nil {
		return fmt.Errorf("browser: install bridge: %w", err)
	}
	// The current document predates the new-document script.
	if _, err := t.page.Eval(bridgeJS); err != nil {
		return fmt.Errorf("browser: install bridge: %w", err)
	}
	return nil
}

// listen forwards binding calls until ctx ends or the page goes away.
func (t *Tab) listen(ctx context.Context) {
	defer t.sig.close()
	log := t.manager.cfg.Logger
	t.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		if !t.sig.deliver(e.Payload) {
			log.Debug("browser: unknown bridge payload", "payload", e.Payload)
		}
	})()
}

// Mutations receives a value after the page body changed. Bursts are
// coalesced. The channel is closed with the tab.
func (t *Tab) Mutations() <-chan struct{} { return t.sig.mutations }

// Loads receives a value after each full document load.
func (t *Tab) Loads() <-chan struct{} { return t.sig.loads }

// URL returns the current address, or "" when the tab is gone.
func (t *Tab) URL() string {
	info, err := t.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Navigate loads url and waits for the load event.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()

	p := t.page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		t.manager.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return nil
}

// FindAll implements dom.Querier.
func (t *Tab) FindAll(selector string) ([]dom.Element, error) {
	els, err := t.page.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	return wrapAll(els), nil
}

// Fetch implements expand.Fetcher with the page's own fetch.
func (t *Tab) Fetch(ctx context.Context, url string) ([]byte, error) {
	res, err := t.page.Context(ctx).Eval(inPageFetch, url)
	if err != nil {
		return nil, fmt.Errorf("browser: fetch %s: %w", url, err)
	}
	body := res.Value.Str()
	if len(body) > expand.MaxPageBytes {
		return nil, fmt.Errorf("browser: fetch %s: page exceeds %d bytes", url, expand.MaxPageBytes)
	}
	return []byte(body), nil
}

// Close stops the bridge listener and closes the tab.
func (t *Tab) Close() error {
	if t.cancel != nil {
		t.cancel()
	} else {
		t.sig.close()
	}
	if t.router != nil {
		_ = t.router.Stop()
	}
	if t.page != nil {
		return t.page.Close()
	}
	return nil
}
