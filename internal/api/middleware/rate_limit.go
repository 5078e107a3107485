package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zatekoja/slotbooking/internal/infrastructure/observability"
)

// SharedLimiter spends one request of key's budget in a store shared by
// every instance. retryAfter is set when the request is refused.
type SharedLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimiter budgets requests per remote address. With a shared limiter the
// budget holds across instances; the local token buckets are used whenever
// the shared store cannot answer.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
	shared  SharedLimiter
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second with the given burst per client
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		now:     time.Now,
	}
}

// UseShared budgets requests in a store shared with other instances
func (l *RateLimiter) UseShared(shared SharedLimiter) {
	l.shared = shared
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(l.rps, l.burst)
	l.entries[key] = &limiterEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup drops buckets unused for longer than the idle TTL
func (l *RateLimiter) Cleanup() {
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, ent := range l.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

// StartJanitor runs Cleanup every interval until ctx is done
func (l *RateLimiter) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}

// Middleware rejects requests over the caller's budget with 429
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)

		if l.shared != nil {
			allowed, retryAfter, err := l.shared.Allow(r.Context(), key)
			if err == nil {
				if !allowed {
					tooManyRequests(w, retryAfter)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			observability.LoggerFromContext(r.Context()).Warn().Err(err).Msg("shared rate limit unavailable, using local budget")
		}

		lim := l.limiter(key)
		reservation := lim.Reserve()
		if !reservation.OK() {
			tooManyRequests(w, time.Second)
			return
		}
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			tooManyRequests(w, delay)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
}

// clientKey is the connection's remote host. Request headers are ignored
// because callers control them.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
