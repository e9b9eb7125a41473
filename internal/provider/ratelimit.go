package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces requests to one provider: a minimum interval between
// calls plus a per-minute cap. Both limits come from the provider's plan.
type RateLimiter struct {
	mu           sync.Mutex
	minInterval  time.Duration
	maxPerMinute int
	recent       []time.Time
	last         time.Time
}

// NewRateLimiter creates a limiter. Zero values disable the corresponding
// limit.
func NewRateLimiter(minInterval time.Duration, maxPerMinute int) *RateLimiter {
	return &RateLimiter{
		minInterval:  minInterval,
		maxPerMinute: maxPerMinute,
	}
}

// Wait blocks until the next request is permitted or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()

		// Drop entries older than the sliding minute window.
		cutoff := now.Add(-time.Minute)
		kept := l.recent[:0]
		for _, t := range l.recent {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		l.recent = kept

		var wait time.Duration
		if l.maxPerMinute > 0 && len(l.recent) >= l.maxPerMinute {
			wait = l.recent[0].Add(time.Minute).Sub(now)
		} else if l.minInterval > 0 && !l.last.IsZero() {
			if since := now.Sub(l.last); since < l.minInterval {
				wait = l.minInterval - since
			}
		}

		if wait <= 0 {
			l.last = now
			l.recent = append(l.recent, now)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
