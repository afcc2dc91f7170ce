// Package ratelimit gates mutating operations per caller key.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key and forgets keys idle for ttl.
type Limiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	entries map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// PerMinute builds a limiter allowing n events per minute with a burst of n.
func PerMinute(n int, ttl time.Duration) *Limiter {
	return New(rate.Limit(float64(n)/60), n, ttl)
}

func New(limit rate.Limit, burst int, ttl time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		entries: make(map[string]*bucket),
		now:     time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (m *Limiter) SetClock(now func() time.Time) { m.now = now }

func (m *Limiter) Allow(key string) bool {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.entries[key]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(m.limit, m.burst), lastSeen: now}
		m.entries[key] = b
	}
	b.lastSeen = now

	for k, v := range m.entries {
		if now.Sub(v.lastSeen) > m.ttl {
			delete(m.entries, k)
		}
	}
	return b.lim.AllowN(now, 1)
}

// Len reports how many keys are tracked.
func (m *Limiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Class names an operation bucket.
type Class int

const (
	// Strict covers registration, pairing-code generation and redemption.
	Strict Class = iota
	// Relaxed covers reads and session traffic.
	Relaxed
)

// Set holds one limiter per class.
type Set struct {
	strict  *Limiter
	relaxed *Limiter
}

func NewSet(strictPerMinute, relaxedPerMinute int) *Set {
	return &Set{
		strict:  PerMinute(strictPerMinute, 10*time.Minute),
		relaxed: PerMinute(relaxedPerMinute, 10*time.Minute),
	}
}

// Allow reports whether every key may proceed under the class. Empty keys
// are skipped, so callers can pass an unknown device ID alongside the IP.
func (s *Set) Allow(c Class, op string, keys ...string) bool {
	lim := s.relaxed
	if c == Strict {
		lim = s.strict
	}
	ok := true
	for _, k := range keys {
		if k == "" {
			continue
		}
		if !lim.Allow(op + "|" + k) {
			ok = false
		}
	}
	return ok
}

// SetClock replaces the time source of both classes.
func (s *Set) SetClock(now func() time.Time) {
	s.strict.SetClock(now)
	s.relaxed.SetClock(now)
}

// ClientIP returns the first X-Forwarded-For hop or the remote address host.
func ClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
