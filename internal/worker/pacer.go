package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces requests per store according to the store's configured delay.
// Limiters are shared across workers so the delay holds even when several
// jobs for one store run concurrently.
type Pacer struct {
	mu       sync.Mutex
	limiters map[string]*storeLimiter
}

type storeLimiter struct {
	limiter *rate.Limiter
	delay   time.Duration
}

// NewPacer constructs an empty Pacer.
func NewPacer() *Pacer {
	return &Pacer{limiters: make(map[string]*storeLimiter)}
}

// Wait blocks until the store's next request slot. A zero delay passes
// through immediately. The limiter is rebuilt when the configured delay
// changes.
func (p *Pacer) Wait(ctx context.Context, store string, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	p.mu.Lock()
	sl, ok := p.limiters[store]
	if !ok || sl.delay != delay {
		sl = &storeLimiter{
			limiter: rate.NewLimiter(rate.Every(delay), 1),
			delay:   delay,
		}
		p.limiters[store] = sl
	}
	p.mu.Unlock()
	return sl.limiter.Wait(ctx)
}
