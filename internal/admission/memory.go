package admission

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	resetAt time.Time
}

// pruneEvery bounds how often Incr scans the whole map for expired
// windows. Keys are per client identity, so without pruning the map grows
// with every identity ever seen.
const pruneEvery = time.Minute

// MemoryCounters is the in-process counter backend. Counters are created
// lazily and recreated once their window elapses; expired windows are
// pruned opportunistically on Incr.
type MemoryCounters struct {
	mu        sync.Mutex
	windows   map[string]*window
	lastPrune time.Time
	now       func() time.Time
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (c *MemoryCounters) Incr(ctx context.Context, key string, win time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastPrune) >= pruneEvery {
		for k, w := range c.windows {
			if !now.Before(w.resetAt) {
				delete(c.windows, k)
			}
		}
		c.lastPrune = now
	}

	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(win)}
		c.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}
