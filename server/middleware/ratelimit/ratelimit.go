// Package ratelimit provides an HTTP middleware which throttles requests per
// client with a token bucket, returning 429 (too many requests) when empty
package ratelimit

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Limiter
type Config struct {
	// Limit is the number of requests allowed per Window
	Limit int

	// Window is the refill period of the bucket
	Window time.Duration

	// Extractor identifies the client of a request.  The default uses the first
	// X-Forwarded-For hop, else the remote host.
	Extractor func(r *http.Request) string
}

// Limiter holds one token bucket per client
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New returns a Limiter
func New(cfg Config) *Limiter {
	if cfg.Limit < 1 {
		cfg.Limit = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.Extractor == nil {
		cfg.Extractor = clientID
	}
	return &Limiter{cfg: cfg, buckets: map[string]*rate.Limiter{}}
}

func clientID(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (l *Limiter) bucket(id string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[id]
	if !ok {
		every := rate.Every(l.cfg.Window / time.Duration(l.cfg.Limit))
		b = rate.NewLimiter(every, l.cfg.Limit)
		l.buckets[id] = b
	}
	return b
}

// Check is an HTTP middleware that bounces requests beyond the limit
func (l *Limiter) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := l.cfg.Extractor(r)
		if id == "" {
			id = "anonymous"
		}
		b := l.bucket(id)
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", l.cfg.Limit))
		if !b.Allow() {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":             "rate limit exceeded",
				"rate_limit":        l.cfg.Limit,
				"rate_limit_window": l.cfg.Window.String(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
