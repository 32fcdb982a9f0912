package dashboard

import (
	"sync"
	"time"
)

const refetchWindow = 2 * time.Second

// pollLimiter lets one refetch of a given job per session through per window.
type pollLimiter struct {
	mu      sync.Mutex
	lastHit map[string]time.Time
	now     func() time.Time
	window  time.Duration
}

func newPollLimiter(window time.Duration, now func() time.Time) *pollLimiter {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = refetchWindow
	}
	return &pollLimiter{
		lastHit: make(map[string]time.Time),
		now:     now,
		window:  window,
	}
}

func (l *pollLimiter) Allow(sessionID, jobID string) bool {
	if l == nil {
		return true
	}
	key := sessionID + "|" + jobID
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.lastHit[key]; ok && now.Sub(last) < l.window {
		return false
	}
	l.lastHit[key] = now
	if len(l.lastHit) > 4096 {
		for k, v := range l.lastHit {
			if now.Sub(v) >= l.window {
				delete(l.lastHit, k)
			}
		}
	}
	return true
}

func (l *pollLimiter) RetryAfterSeconds() int {
	if l == nil {
		return int(refetchWindow.Seconds())
	}
	if s := int(l.window.Seconds()); s > 0 {
		return s
	}
	return 1
}
