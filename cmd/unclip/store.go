package main

import (
	"database/sql"
	"errors"
	"io/fs"
	"net/netip"
	"net/url"
	"os"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/unclip/background"
	"github.com/hazyhaar/unclip/dbopen"
	"github.com/hazyhaar/unclip/messaging"
	"github.com/hazyhaar/unclip/settings"
)

// local is the settings database with the background service on top.
type local struct {
	db     *sql.DB
	store  *settings.Store
	router *messaging.Router
	bg     *background.Service
	// fresh is set when the database did not exist before this run.
	fresh bool
}

func (a *app) openLocal() (*local, error) {
	path := a.cfg.Storage.Path
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, fs.ErrNotExist)

	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(settings.Schema))
	if err != nil {
		return nil, err
	}
	store := settings.New(
		settings.NewSQLiteArea(db, "sync"),
		settings.NewSQLiteArea(db, "local"),
		settings.WithLogger(a.logger))

	router := messaging.New(messaging.WithLogger(a.logger))
	bg := background.New(store, router,
		background.WithLogger(a.logger),
		background.WithVersion(version))
	if u := a.cfg.License.BackendURL; u != "" {
		if err := bg.ConnectBackend(u, backendOptions(u)...); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &local{db: db, store: store, router: router, bg: bg, fresh: fresh}, nil
}

// backendOptions lets a loopback backend through the private address guard,
// so a `serve` on the same machine is reachable.
func backendOptions(raw string) []messaging.RemoteOption {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	host := u.Hostname()
	if host == "localhost" {
		return []messaging.RemoteOption{messaging.AllowPrivate()}
	}
	if ip, err := netip.ParseAddr(host); err == nil && ip.Unmap().IsLoopback() {
		return []messaging.RemoteOption{messaging.AllowPrivate()}
	}
	return nil
}

func (l *local) Close() error {
	l.router.Close()
	return l.db.Close()
}
