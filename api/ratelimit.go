package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorLimiter tracks the token bucket for one remote IP, plus when it
// was last seen so the cleanup loop can evict stale entries.
type visitorLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimitMiddleware is an IP-keyed token-bucket limiter guarding the
// /v1/* routes from a single noisy caller. Idle visitors are swept
// periodically so the map doesn't grow without bound.
type rateLimitMiddleware struct {
	rps   float64
	burst int

	mu       sync.Mutex
	visitors map[string]*visitorLimiter
}

func newRateLimitMiddleware(ctx context.Context, rps float64, burst int) *rateLimitMiddleware {
	rl := &rateLimitMiddleware{
		rps:      rps,
		burst:    burst,
		visitors: make(map[string]*visitorLimiter),
	}
	go rl.evictStale(ctx)
	return rl
}

func (rl *rateLimitMiddleware) evictStale(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// sweep drops every visitor idle for more than three minutes.
func (rl *rateLimitMiddleware) sweep() {
	rl.mu.Lock()
	for ip, v := range rl.visitors {
		if time.Since(v.lastSeen) > 3*time.Minute {
			delete(rl.visitors, ip)
		}
	}
	rl.mu.Unlock()
}

func (rl *rateLimitMiddleware) allow(ip string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitorLimiter{limiter: rate.NewLimiter(rate.Limit(rl.rps), rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()
	return v.limiter.Allow()
}

// handler only rate-limits /v1/* paths; healthz/readyz/metrics stay
// unthrottled so probes and scrapers are never penalized for being
// frequent.
func (rl *rateLimitMiddleware) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/") {
			next.ServeHTTP(w, r)
			return
		}
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !rl.allow(ip) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
