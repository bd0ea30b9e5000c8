package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/unclip/config"
	"github.com/hazyhaar/unclip/dbopen"
	"github.com/hazyhaar/unclip/license"
	"github.com/hazyhaar/unclip/shield"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the checkout and license backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.License.Addr = addr
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides license.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	lc := a.cfg.License
	provider, err := license.NewStripeProvider(lc.StripeSecretKey, lc.StripePriceID)
	if err != nil {
		return err
	}

	secret := []byte(lc.KeySecret)
	if len(secret) == 0 {
		a.logger.Warn("unclip: no license secret set, keys will not survive a restart",
			"env", config.EnvLicenseSecret)
		if secret, err = license.RandomSecret(); err != nil {
			return err
		}
	}
	issuer, err := license.NewIssuer(secret)
	if err != nil {
		return err
	}

	db, err := dbopen.Open(lc.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(license.Schema))
	if err != nil {
		return err
	}
	defer db.Close()

	svc := license.NewService(provider, issuer, license.NewStore(db), a.logger)
	handler, rl := svc.Handler(shield.StackConfig{RateLimit: lc.RateLimit})
	srv := &http.Server{
		Addr:              lc.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	a.logger.Info("unclip: license backend listening", "addr", lc.Addr)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rl.RunSweeper(ctx, 5*time.Minute)
		return nil
	})
	g.Go(func() error { return runServer(ctx, srv) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
