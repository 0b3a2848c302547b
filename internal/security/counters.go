// Package security implements the per-IP rate-limit gate and visitor
// classification consulted on every proxied request.
package security

import (
	"sync"
	"time"
)

// Window identifies one of the three fixed counting windows.
type Window string

// Counting windows.
const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

type counterKey struct {
	ip     string
	window Window
	bucket int64
}

// CounterStore keeps fixed-window request counters keyed by (ip, window).
// Increment-and-read is a single operation under one lock, so concurrent
// requests cannot sneak past a limit via read-modify-write races. Expired
// buckets are dropped by Sweep.
type CounterStore struct {
	mu       sync.Mutex
	counters map[counterKey]int
}

// NewCounterStore constructs an empty CounterStore.
func NewCounterStore() *CounterStore {
	return &CounterStore{counters: make(map[counterKey]int)}
}

// Incr bumps the counter for (ip, window) at the bucket containing now and
// returns the new count.
func (c *CounterStore) Incr(ip string, window Window, now time.Time) int {
	key := counterKey{ip: ip, window: window, bucket: bucketStart(window, now)}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key]
}

// Count returns the current count without incrementing.
func (c *CounterStore) Count(ip string, window Window, now time.Time) int {
	key := counterKey{ip: ip, window: window, bucket: bucketStart(window, now)}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[key]
}

// Sweep drops buckets whose window ended before now.
func (c *CounterStore) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.counters {
		end := key.bucket + int64(key.window.Duration()/time.Second)
		if end <= now.Unix() {
			delete(c.counters, key)
			removed++
		}
	}
	return removed
}

func bucketStart(window Window, now time.Time) int64 {
	return now.Truncate(window.Duration()).Unix()
}
