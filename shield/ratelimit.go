package shield

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/unclip/ratelimit"
)

// RateLimiter gives every client IP its own fixed-window limiter. Idle
// buckets are dropped by Sweep.
type RateLimiter struct {
	capacity int
	window   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*ratelimit.Limiter
}

// NewRateLimiter allows capacity requests per IP per window.
func NewRateLimiter(capacity int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		capacity: capacity,
		window:   window,
		now:      time.Now,
		buckets:  make(map[string]*ratelimit.Limiter),
	}
}

func (rl *RateLimiter) bucket(ip string) *ratelimit.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = ratelimit.New(
			ratelimit.WithCapacity(rl.capacity),
			ratelimit.WithWindow(rl.window),
			ratelimit.WithClock(rl.now))
		rl.buckets[ip] = b
	}
	return b
}

// Allow consumes one request for ip.
func (rl *RateLimiter) Allow(ip string) bool { return rl.bucket(ip).Allow() }

// Sweep drops buckets whose window started more than idle ago and
// returns how many were removed.
func (rl *RateLimiter) Sweep(idle time.Duration) int {
	cutoff := rl.now().Add(-idle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for ip, b := range rl.buckets {
		if b.LastActive().Before(cutoff) {
			delete(rl.buckets, ip)
			n++
		}
	}
	return n
}

// RunSweeper sweeps every interval until ctx is done.
func (rl *RateLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n := rl.Sweep(interval); n > 0 {
				slog.Debug("ratelimit: swept idle buckets", "count", n)
			}
		}
	}
}

// Middleware rejects requests over the limit with 429 and a JSON error.
// Preflight requests are not counted.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		ip := ExtractIP(r)
		b := rl.bucket(ip)
		if b.Allow() {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "path", r.URL.Path)

		retry := int(b.Status().ResetIn.Seconds() + 0.999)
		w.Header().Set("Retry-After", strconv.Itoa(max(1, retry)))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
