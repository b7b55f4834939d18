package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client token buckets.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero or less disables limiting.
	RequestsPerSecond float64
	// Burst is the bucket size.
	Burst int
}

// Idle client buckets are dropped after staleAfter.
const (
	staleAfter    = 10 * time.Minute
	sweepInterval = 5 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key. It is shared by the
// HTTP middleware and the gRPC interceptors.
type RateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	clients map[string]*clientLimiter
	stop    chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a limiter and starts its cleanup loop. Call Stop
// to end it.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	l := &RateLimiter{cfg: cfg, clients: make(map[string]*clientLimiter), stop: make(chan struct{})}
	go l.sweep()
	return l
}

// Stop ends the cleanup loop.
func (l *RateLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Enabled reports whether limiting is active.
func (l *RateLimiter) Enabled() bool { return l != nil && l.cfg.RequestsPerSecond > 0 }

// Allow takes one token for key. When the bucket is empty it returns false
// and how long the caller should wait.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	if !l.Enabled() {
		return true, 0
	}
	lim := l.limiter(key)
	res := lim.Reserve()
	if !res.OK() {
		return false, 0
	}
	if d := res.Delay(); d > 0 {
		res.Cancel()
		return false, d
	}
	return true, 0
}

// Remaining returns the tokens left for key, rounded down.
func (l *RateLimiter) Remaining(key string) int {
	if !l.Enabled() {
		return l.cfg.Burst
	}
	return int(l.limiter(key).Tokens())
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	cl, ok := l.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.clients[key] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

func (l *RateLimiter) sweep() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-t.C:
			l.mu.Lock()
			for key, cl := range l.clients {
				if now.Sub(cl.lastSeen) > staleAfter {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// HTTP rejects requests over the limit with 429. Clients are keyed by
// remote IP.
func (l *RateLimiter) HTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		ok, wait := l.Allow(key)
		if !ok {
			writeTooManyRequests(w, wait)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(l.Remaining(key)))
		next.ServeHTTP(w, r)
	})
}

// clientIP uses RemoteAddr only. X-Forwarded-For is client controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeTooManyRequests(w http.ResponseWriter, wait time.Duration) {
	if wait > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    http.StatusTooManyRequests,
		"message": "rate limit exceeded",
	})
}
