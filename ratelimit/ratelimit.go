// Package ratelimit implements fixed-window request counters keyed by
// caller identity, with the standard X-RateLimit response headers.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/teerand/tee-randomness-backend/metrics"
)

// Result is the limiter's verdict for one request.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

type window struct {
	count int
	start time.Time
}

// Limiter is a fixed-window counter limiter. Windows reset when
// now - windowStart >= windowSize; there is no sliding or token refill.
type Limiter struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time

	// now is injectable for tests.
	now func() time.Time
}

// New creates a limiter allowing limit requests per window per key.
func New(limit int, windowSize time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  windowSize,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// WithClock replaces the limiter's clock. Test helper.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow counts one request against key and reports whether it fits the
// current window.
func (l *Limiter) Allow(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.windows[key] = w
	}

	reset := w.start.Add(l.window)
	if w.count >= l.limit {
		return Result{Allowed: false, Limit: l.limit, Remaining: 0, Reset: reset}
	}

	w.count++
	return Result{Allowed: true, Limit: l.limit, Remaining: l.limit - w.count, Reset: reset}
}

// sweepLocked drops expired windows at most once per window size, keeping
// the map bounded by active keys.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
		}
	}
}

// SetHeaders writes the standard rate-limit headers for a result.
func SetHeaders(w http.ResponseWriter, res Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
}

// Middleware applies the limiter to every request, keyed by keyFunc, and
// responds 429 with a fixed body when the window is exhausted. scope tags
// the rejection metric.
func (l *Limiter) Middleware(scope string, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.Allow(keyFunc(r))
			SetHeaders(w, res)
			if !res.Allowed {
				metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":"rate limit exceeded","retry_after":%d}`, int(time.Until(res.Reset).Seconds())+1)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the caller address for global limiting: the first
// X-Forwarded-For entry when present, otherwise the connection peer.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// PaymentIdentity keys the paid-route limiter: the truncated SHA-256 of the
// payment header when one is present, else the client IP. Evaluated before
// facilitator verification so rate limiting bounds verify call volume too.
func PaymentIdentity(r *http.Request, headerNames ...string) string {
	for _, name := range headerNames {
		if v := r.Header.Get(name); v != "" {
			sum := sha256.Sum256([]byte(v))
			return "pay:" + hex.EncodeToString(sum[:16])
		}
	}
	return "ip:" + ClientIP(r)
}
