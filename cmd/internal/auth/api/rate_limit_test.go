package authapi

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFailureLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ip := netip.MustParseAddr("198.51.100.7")
	other := netip.MustParseAddr("198.51.100.8")
	l := newFailureLimiter(2, time.Minute)

	l.fail(ip, now)
	blocked, _ := l.blocked(ip, now)
	require.False(t, blocked)

	l.fail(ip, now.Add(10*time.Second))
	blocked, retry := l.blocked(ip, now.Add(20*time.Second))
	require.True(t, blocked)
	require.Equal(t, 40*time.Second, retry)

	blocked, _ = l.blocked(other, now.Add(20*time.Second))
	require.False(t, blocked)

	blocked, _ = l.blocked(ip, now.Add(time.Minute))
	require.False(t, blocked, "window elapsed")

	l.fail(ip, now)
	l.fail(ip, now)
	l.reset(ip)
	blocked, _ = l.blocked(ip, now)
	require.False(t, blocked)
}

func TestFailureLimiter_Disabled(t *testing.T) {
	now := time.Now()
	ip := netip.MustParseAddr("2001:db8::1")

	var nilLimiter *failureLimiter
	nilLimiter.fail(ip, now)
	blocked, _ := nilLimiter.blocked(ip, now)
	require.False(t, blocked)

	off := newFailureLimiter(0, time.Minute)
	for range 10 {
		off.fail(ip, now)
	}
	blocked, _ = off.blocked(ip, now)
	require.False(t, blocked)

	on := newFailureLimiter(1, time.Minute)
	on.fail(netip.Addr{}, now)
	blocked, _ = on.blocked(netip.Addr{}, now)
	require.False(t, blocked)
}

func TestFailureLimiter_EvictsStaleBuckets(t *testing.T) {
	now := time.Now()
	l := newFailureLimiter(5, time.Minute)
	l.fail(netip.MustParseAddr("192.0.2.1"), now)
	l.fail(netip.MustParseAddr("192.0.2.2"), now.Add(2*time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.buckets, 1)
}
