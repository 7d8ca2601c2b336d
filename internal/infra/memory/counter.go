package memory

import (
	"context"
	"sync"
	"time"
)

// Counter is an in-process rate-limit counter with per-key windows.
type Counter struct {
	clock func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count    int64
	expireAt time.Time
}

func NewCounter() *Counter {
	return &Counter{clock: time.Now, windows: make(map[string]*window)}
}

// NewCounterWithClock is test-only for deterministic windows.
func NewCounterWithClock(clock func() time.Time) *Counter {
	return &Counter{clock: clock, windows: make(map[string]*window)}
}

func (c *Counter) Incr(_ context.Context, key string, length time.Duration) (int64, time.Duration, error) {
	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[key]
	if !ok || !w.expireAt.After(now) {
		w = &window{expireAt: now.Add(length)}
		c.windows[key] = w
	}
	w.count++
	return w.count, w.expireAt.Sub(now), nil
}
