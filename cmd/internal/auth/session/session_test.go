package session

import (
	"sync"
	"testing"
	"time"

	"fms/cmd/security/password"

	"github.com/stretchr/testify/require"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWTSecret = testJWTSecret
	cfg.RefreshTTLMinutes = 60
	return cfg
}

func fastHasher() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

// testClock is a settable clock safe for concurrent use.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(at time.Time) *testClock { return &testClock{now: at} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, store Store, clock *testClock, opts ...ManagerOption) *Manager {
	t.Helper()
	opts = append([]ManagerOption{WithClock(clock.Now)}, opts...)
	m, err := NewManager(testConfig(), store, fastHasher(), opts...)
	require.NoError(t, err)
	return m
}
