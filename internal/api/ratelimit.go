package api

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// clientLimiters hands each client its own token bucket so one noisy client
// cannot starve the rest.
type clientLimiters struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newClientLimiters(perSec float64, burst int) *clientLimiters {
	return &clientLimiters{
		perSec:   rate.Limit(perSec),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow checks whether the named client may proceed
func (c *clientLimiters) Allow(client string) bool {
	c.mu.Lock()
	limiter, ok := c.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(c.perSec, c.burst)
		c.limiters[client] = limiter
	}
	c.mu.Unlock()

	return limiter.Allow()
}

// clientKey identifies the caller: the first X-Forwarded-For hop when a
// proxy is in front, otherwise the remote address without the port.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
