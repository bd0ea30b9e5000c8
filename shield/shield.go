// Package shield provides the HTTP middleware of the license backend:
// security headers, body caps, CORS, request tracing and per-IP rate
// limiting.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(shield.StackConfig{}) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"net/http"
	"time"
)

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"

	// TraceIDKey is the context key for the request trace id.
	TraceIDKey contextKey = "shield_trace_id"
)

// TraceIDFrom returns the trace id set by TraceID, or "".
func TraceIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// StackConfig configures APIStack. Zero values take defaults.
type StackConfig struct {
	// MaxBody caps request bodies. Default: 64 KiB.
	MaxBody int64
	// RateLimit is the requests allowed per IP per RateWindow. Default: 30.
	RateLimit int
	// RateWindow defaults to one minute.
	RateWindow time.Duration
	CORS       CORSConfig
}

func (c *StackConfig) defaults() {
	if c.MaxBody <= 0 {
		c.MaxBody = 64 << 10
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 30
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
}

// APIStack returns the middleware stack for a public JSON API, ordered:
// CORS → SecurityHeaders → MaxBody → TraceID → RateLimit. The limiter is
// returned so callers can run its sweeper.
func APIStack(cfg StackConfig) ([]func(http.Handler) http.Handler, *RateLimiter) {
	cfg.defaults()
	rl := NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	return []func(http.Handler) http.Handler{
		CORS(cfg.CORS),
		SecurityHeaders(DefaultHeaders()),
		MaxBody(cfg.MaxBody),
		TraceID,
		rl.Middleware,
	}, rl
}
