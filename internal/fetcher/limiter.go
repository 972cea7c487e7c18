package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterSettings allows Requests per Window for each host.
type RateLimiterSettings struct {
	Requests int
	Window   time.Duration
}

func (s RateLimiterSettings) enabled() bool {
	return s.Requests > 0 && s.Window > 0
}

// HostLimiter is shared by every worker of a run, so the request rate to the
// racing site stays the same whatever the pool size.
type HostLimiter struct {
	delay    time.Duration
	settings RateLimiterSettings

	mu    sync.Mutex
	hosts map[string]*hostSlot
}

type hostSlot struct {
	next   time.Time
	bucket *rate.Limiter
}

// NewHostLimiter returns nil when neither a delay nor a rate is set. Wait on
// a nil limiter returns immediately.
func NewHostLimiter(delay time.Duration, settings RateLimiterSettings) *HostLimiter {
	if delay <= 0 && !settings.enabled() {
		return nil
	}
	return &HostLimiter{delay: delay, settings: settings, hosts: make(map[string]*hostSlot)}
}

// Wait blocks until host may be contacted again or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if l == nil || host == "" {
		return nil
	}
	slot, pause := l.reserve(strings.ToLower(host), time.Now())

	if pause > 0 {
		timer := time.NewTimer(pause)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if slot.bucket != nil {
		return slot.bucket.Wait(ctx)
	}
	return nil
}

// reserve claims the next free delay slot for host and reports how long the
// caller has to wait for it.
func (l *HostLimiter) reserve(host string, now time.Time) (*hostSlot, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.hosts[host]
	if !ok {
		slot = &hostSlot{}
		if l.settings.enabled() {
			every := l.settings.Window / time.Duration(l.settings.Requests)
			slot.bucket = rate.NewLimiter(rate.Every(max(every, time.Millisecond)), l.settings.Requests)
		}
		l.hosts[host] = slot
	}
	if l.delay <= 0 {
		return slot, 0
	}

	start := now
	if slot.next.After(now) {
		start = slot.next
	}
	slot.next = start.Add(l.delay)
	return slot, start.Sub(now)
}
