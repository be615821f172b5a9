// Package ratelimit throttles repetitive log lines such as unrecognized frames,
// slow WebSocket clients and failed lookups.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter counts occurrences of one event and allows a log line at most once
// per interval. It is safe for concurrent use.
type Counter struct {
	interval   time.Duration
	now        func() time.Time
	lastLog    atomic.Int64
	total      atomic.Uint64
	suppressed atomic.Uint64
}

// NewCounter constructs a Counter. A zero or negative interval logs every event.
func NewCounter(interval time.Duration) *Counter {
	return &Counter{interval: interval, now: time.Now}
}

// Inc records one event. It returns the running total, the number of events
// suppressed since the last allowed log, and whether this event may be logged.
func (c *Counter) Inc() (total uint64, suppressed uint64, ok bool) {
	if c == nil {
		return 0, 0, false
	}
	total = c.total.Add(1)
	if c.interval <= 0 {
		return total, 0, true
	}
	now := c.now().UnixNano()
	last := c.lastLog.Load()
	if last != 0 && now-last < c.interval.Nanoseconds() {
		c.suppressed.Add(1)
		return total, 0, false
	}
	if c.lastLog.CompareAndSwap(last, now) {
		return total, c.suppressed.Swap(0), true
	}
	c.suppressed.Add(1)
	return total, 0, false
}

// Total returns the number of events recorded.
func (c *Counter) Total() uint64 {
	if c == nil {
		return 0
	}
	return c.total.Load()
}

// Keyed holds one Counter per key, e.g. per connection name.
type Keyed struct {
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
	counters map[string]*Counter
}

// NewKeyed constructs a Keyed throttle sharing one interval.
func NewKeyed(interval time.Duration) *Keyed {
	return &Keyed{interval: interval, now: time.Now, counters: make(map[string]*Counter)}
}

// Inc records one event for key. See Counter.Inc.
func (k *Keyed) Inc(key string) (uint64, uint64, bool) {
	if k == nil {
		return 0, 0, false
	}
	k.mu.Lock()
	c, ok := k.counters[key]
	if !ok {
		c = NewCounter(k.interval)
		c.now = k.now
		k.counters[key] = c
	}
	k.mu.Unlock()
	return c.Inc()
}
