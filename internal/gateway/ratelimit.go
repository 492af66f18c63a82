package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterBurst      = 5
	maxTrackedClients = 10000
	clientIdleEvict   = 10 * time.Minute
)

// clientLimiter applies a per-client token bucket. Clients are keyed by
// remote host; the table is bounded and idle entries are evicted lazily.
type clientLimiter struct {
	rpm int

	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newClientLimiter(rpm int) *clientLimiter {
	return &clientLimiter{rpm: rpm, clients: make(map[string]*clientBucket)}
}

func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	if c.rpm <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited, "slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *clientLimiter) allow(key string) bool {
	now := time.Now()

	c.mu.Lock()
	b, ok := c.clients[key]
	if !ok {
		if len(c.clients) >= maxTrackedClients {
			c.evictIdleLocked(now)
		}
		b = &clientBucket{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.rpm)), limiterBurst)}
		c.clients[key] = b
	}
	b.seen = now
	c.mu.Unlock()

	return b.lim.Allow()
}

func (c *clientLimiter) evictIdleLocked(now time.Time) {
	for key, b := range c.clients {
		if now.Sub(b.seen) > clientIdleEvict {
			delete(c.clients, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
