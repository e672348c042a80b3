// Package limiter throttles the execute endpoint per client IP.
package limiter

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/amstig/internal/metrics"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	ipRate   rate.Limit
	ipBurst  int
	now      func() time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// NewRateLimiter allows perIPRPS requests per second per IP with bursts of
// perIPBurst. A non-positive rate disables limiting.
func NewRateLimiter(perIPRPS float64, perIPBurst int) *RateLimiter {
	if perIPBurst <= 0 {
		perIPBurst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		ipRate:   rate.Limit(perIPRPS),
		ipBurst:  perIPBurst,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

func (rl *RateLimiter) getIPLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.ipRate, rl.ipBurst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = rl.now()
	return v.limiter
}

// Allow reports whether ip may make a request now.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.ipRate <= 0 {
		return true
	}
	if !rl.getIPLimiter(ip).AllowN(rl.now(), 1) {
		metrics.RateLimitHits.Inc()
		return false
	}
	return true
}

// Middleware rejects over-limit requests with 429. It expects chi's RealIP
// middleware to have run so RemoteAddr is the client address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "rate_limited",
				"message": "Too many requests, please slow down",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartCleanup forgets IPs idle for longer than idle, checking every interval,
// until Stop is called.
func (rl *RateLimiter) StartCleanup(interval, idle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-rl.done:
				return
			case <-ticker.C:
				rl.Sweep(idle)
			}
		}
	}()
}

// Sweep removes limiters not used within idle.
func (rl *RateLimiter) Sweep(idle time.Duration) {
	cutoff := rl.now().Add(-idle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// Len returns the number of tracked IPs.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
