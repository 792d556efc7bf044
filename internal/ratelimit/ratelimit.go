// Package ratelimit provides the per-IP limiter guarding bootstrap.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleAfter is how long an idle client entry survives before sweep.
const staleAfter = 10 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PerIP hands out one token-bucket limiter per client address.
type PerIP struct {
	mu        sync.Mutex
	clients   map[string]*client
	perMinute int
}

// NewPerIP creates a limiter allowing perMinute requests per IP with
// a burst of the same size.
func NewPerIP(perMinute int) *PerIP {
	if perMinute <= 0 {
		perMinute = 10
	}
	p := &PerIP{
		clients:   make(map[string]*client),
		perMinute: perMinute,
	}
	go p.sweep()
	return p
}

// Allow reports whether the request's client IP is within its budget.
func (p *PerIP) Allow(r *http.Request) bool {
	ip := clientIP(r)

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.clients[ip]
	if !ok {
		c = &client{
			limiter: rate.NewLimiter(rate.Limit(float64(p.perMinute)/60.0), p.perMinute),
		}
		p.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter.Allow()
}

func (p *PerIP) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-staleAfter)
		p.mu.Lock()
		for ip, c := range p.clients {
			if c.lastSeen.Before(cutoff) {
				delete(p.clients, ip)
			}
		}
		p.mu.Unlock()
	}
}

// clientIP prefers X-Forwarded-For (first hop) since the server is
// expected to sit behind the aweb proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
