package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// loginThrottle hands out one token bucket per login key (email and client).
type loginThrottle struct {
	mu       sync.Mutex
	limiters map[string]*throttleEntry
	every    rate.Limit
	burst    int
	now      func() time.Time
}

type throttleEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

const (
	throttlePruneAt   = 4096
	throttleIdleAfter = time.Hour
)

// newLoginThrottle allows burst attempts, refilled one per interval. A
// non-positive burst disables throttling.
func newLoginThrottle(burst int, interval time.Duration) *loginThrottle {
	if burst <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &loginThrottle{
		limiters: make(map[string]*throttleEntry),
		every:    rate.Every(interval),
		burst:    burst,
		now:      time.Now,
	}
}

func (t *loginThrottle) Allow(key string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if len(t.limiters) >= throttlePruneAt {
		for k, e := range t.limiters {
			if now.Sub(e.seen) > throttleIdleAfter {
				delete(t.limiters, k)
			}
		}
	}

	e, ok := t.limiters[key]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.every, t.burst)}
		t.limiters[key] = e
	}
	e.seen = now
	return e.limiter.AllowN(now, 1)
}
