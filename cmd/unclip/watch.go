package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/unclip/background"
	"github.com/hazyhaar/unclip/browser"
	"github.com/hazyhaar/unclip/config"
	"github.com/hazyhaar/unclip/diag"
	"github.com/hazyhaar/unclip/expand"
	"github.com/hazyhaar/unclip/ratelimit"
	"github.com/hazyhaar/unclip/sched"
)

func newWatchCmd(a *app) *cobra.Command {
	var headless bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open Gmail and expand clipped messages until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("headless") {
				a.cfg.Browser.Headless = headless
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return a.watch(ctx)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "hide the Chrome window")
	return cmd
}

func (a *app) watch(ctx context.Context) error {
	loc, err := a.openLocal()
	if err != nil {
		return err
	}
	defer loc.Close()

	reason := background.ReasonUpdate
	if loc.fresh {
		reason = background.ReasonInstall
	}
	if err := loc.bg.OnInstalled(ctx, reason); err != nil {
		return err
	}

	dh := diag.New(a.logger.Handler())
	unbind := dh.Bind(ctx, loc.store)
	defer unbind()
	log := dh.Logger()

	bcfg := a.cfg.Browser
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        bcfg.Remote,
		Headless:         bcfg.Headless,
		Stealth:          bcfg.Stealth,
		UserDataDir:      bcfg.UserDataDir,
		ResourceBlocking: bcfg.ResourceBlocking,
		Logger:           a.logger,
	})
	defer mgr.Close()
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	tab, err := browser.OpenTab(ctx, mgr, bcfg.GmailURL)
	if err != nil {
		return err
	}
	defer tab.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	ecfg := a.cfg.Expander
	strategy, _ := expand.ParseStrategy(ecfg.Strategy)
	loop := sched.NewLoop(sched.WithLogger(a.logger))
	var sanitizer expand.Sanitizer
	if ecfg.SanitizeEnabled() {
		sanitizer = bluemonday.UGCPolicy()
	}
	session := expand.NewSession(expand.SessionConfig{
		Config: expand.Config{
			Doc:   tab,
			Sched: loop,
			Limiter: ratelimit.New(
				ratelimit.WithCapacity(ecfg.RateLimit),
				ratelimit.WithWindow(ecfg.Window),
				ratelimit.WithClock(loop.Now)),
			Fetcher:        newFetcher(ecfg, tab, log),
			Sanitizer:      sanitizer,
			Metrics:        expand.NewMetrics(reg),
			Logger:         log,
			Strategy:       strategy,
			Retry:          ecfg.RetryPolicy(),
			ClickPoll:      ecfg.ClickPoll,
			FreeDailyLimit: ecfg.FreeDailyLimit,
			Phrases:        ecfg.Selectors.Phrases,
		},
		Preferences: loc.store,
		Selectors:   ecfg.Selectors,
		Debounce:    ecfg.Debounce,
	})

	a.logger.Info("unclip: watching", "url", bcfg.GmailURL, "strategy", strategy)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error {
		session.Start()
		err := session.Follow(ctx, tab.Mutations(), tab.Loads())
		if err == nil {
			// The tab went away.
			return errors.New("unclip: browser tab closed")
		}
		return err
	})
	g.Go(func() error { return loc.store.Watch(ctx, a.cfg.Storage.WatchInterval) })
	if addr := a.cfg.Metrics.Addr; addr != "" {
		g.Go(func() error { return serveMetrics(ctx, addr, reg) })
	}

	err = g.Wait()
	session.Stop()
	if errors.Is(err, context.Canceled) {
		a.logger.Info("unclip: stopped")
		return nil
	}
	return err
}

// newFetcher picks the full-view fetcher. The tab fetch carries the Gmail
// session; the HTTP one relies on whatever sits at the other end.
func newFetcher(ecfg config.ExpanderConfig, tab expand.Fetcher, log *slog.Logger) expand.Fetcher {
	if ecfg.Fetcher == config.FetcherHTTP {
		return expand.NewHTTPFetcher(
			expand.WithUserAgent(ecfg.UserAgent),
			expand.WithFetchLogger(log))
	}
	return tab
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return runServer(ctx, srv)
}

// runServer serves until ctx ends, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	return ctx.Err()
}
