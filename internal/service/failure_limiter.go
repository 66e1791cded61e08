package service

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	failureWindowDuration = time.Minute
	failureCleanupPeriod  = 5 * time.Minute
)

type failureWindow struct {
	count       int
	windowStart time.Time
}

// FailureLimiter counts failed pair-code exchanges and session validations
// per client IP in a fixed one-minute window.
type FailureLimiter struct {
	mu          sync.Mutex
	clock       clock.Clock
	max         int
	failures    map[string]*failureWindow
	lastCleanup time.Time
}

func NewFailureLimiter(clk clock.Clock, maxPerMinute int) *FailureLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &FailureLimiter{
		clock:       clk,
		max:         maxPerMinute,
		failures:    make(map[string]*failureWindow),
		lastCleanup: clk.Now(),
	}
}

// RecordFailure counts one failure and reports whether ip is still within
// its budget.
func (l *FailureLimiter) RecordFailure(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.cleanup(now)

	w, ok := l.failures[ip]
	if !ok || now.Sub(w.windowStart) > failureWindowDuration {
		l.failures[ip] = &failureWindow{count: 1, windowStart: now}
		return l.max >= 1
	}

	w.count++
	return w.count <= l.max
}

func (l *FailureLimiter) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < failureCleanupPeriod {
		return
	}
	l.lastCleanup = now

	for ip, w := range l.failures {
		if now.Sub(w.windowStart) > failureWindowDuration {
			delete(l.failures, ip)
		}
	}
}

func (l *FailureLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.failures)
}
