package authapi

import (
	"net/netip"
	"sync"
	"time"
)

// failureLimiter counts failed logins per client IP in fixed windows.
type failureLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	buckets map[netip.Addr]bucket
	sweepAt time.Time
}

type bucket struct {
	start time.Time
	count int
}

func newFailureLimiter(maxFailures int, window time.Duration) *failureLimiter {
	return &failureLimiter{max: maxFailures, window: window, buckets: make(map[netip.Addr]bucket)}
}

// blocked reports whether ip is over the limit, and for how long.
func (l *failureLimiter) blocked(ip netip.Addr, now time.Time) (bool, time.Duration) {
	if l == nil || l.max <= 0 || !ip.IsValid() {
		return false, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok || now.Sub(b.start) >= l.window {
		return false, 0
	}
	if b.count >= l.max {
		return true, b.start.Add(l.window).Sub(now)
	}
	return false, 0
}

func (l *failureLimiter) fail(ip netip.Addr, now time.Time) {
	if l == nil || l.max <= 0 || !ip.IsValid() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evict(now)
	b, ok := l.buckets[ip]
	if !ok || now.Sub(b.start) >= l.window {
		b = bucket{start: now}
	}
	b.count++
	l.buckets[ip] = b
}

func (l *failureLimiter) reset(ip netip.Addr) {
	if l == nil || !ip.IsValid() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, ip)
}

// evict drops stale buckets at most once per window. Caller holds mu.
func (l *failureLimiter) evict(now time.Time) {
	if now.Before(l.sweepAt) {
		return
	}
	for ip, b := range l.buckets {
		if now.Sub(b.start) >= l.window {
			delete(l.buckets, ip)
		}
	}
	l.sweepAt = now.Add(l.window)
}
