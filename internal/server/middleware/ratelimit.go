package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 10 * time.Minute
	limiterIdleAfter  = 30 * time.Minute
)

// keyedLimiter hands out one token bucket per key. Buckets idle for longer
// than limiterIdleAfter are dropped by a sweeper that stops with ctx.
type keyedLimiter[K comparable] struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[K]*bucket
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newKeyedLimiter[K comparable](ctx context.Context, rps float64, burst int) *keyedLimiter[K] {
	kl := &keyedLimiter[K]{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[K]*bucket),
	}
	go kl.sweep(ctx)
	return kl
}

// allow reports whether key may proceed now and, if not, how long until a
// token frees up.
func (kl *keyedLimiter[K]) allow(key K) (bool, time.Duration) {
	now := time.Now()

	kl.mu.Lock()
	b, ok := kl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(kl.rps, kl.burst)}
		kl.buckets[key] = b
	}
	b.seen = now
	kl.mu.Unlock()

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, 0
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (kl *keyedLimiter[K]) sweep(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-limiterIdleAfter)
			kl.mu.Lock()
			for k, b := range kl.buckets {
				if b.seen.Before(cutoff) {
					delete(kl.buckets, k)
				}
			}
			kl.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func tooManyRequests(w http.ResponseWriter, wait time.Duration) {
	if wait > 0 {
		secs := int(wait.Round(time.Second) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	http.Error(w, `{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`, http.StatusTooManyRequests)
}

// RateLimitByIP limits unauthenticated endpoints such as login per client
// address. Chain it after chi's RealIP.
func RateLimitByIP(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	kl := newKeyedLimiter[string](ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if ok, wait := kl.allow(ip); !ok {
				log.Ctx(r.Context()).Debug().Str("ip", ip).Msg("login rate limit exceeded")
				tooManyRequests(w, wait)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit limits requests per active tenant, so every member of a tenant
// shares one bucket. It must run after ActiveTenant; requests without a
// tenant in context pass through.
func RateLimit(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	kl := newKeyedLimiter[int64](ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t, ok := TenantFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if ok, wait := kl.allow(t.ID); !ok {
				log.Ctx(r.Context()).Warn().Int64("tenant_id", t.ID).Msg("tenant rate limit exceeded")
				tooManyRequests(w, wait)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr when one is present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
