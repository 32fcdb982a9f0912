// Package profile keeps a session's copy of the account snapshot and
// refetches it whenever credits may have changed.
package profile

import (
	"context"
	"errors"
	"sync"
	"time"

	"qc-dashboard/internal/events"
	"qc-dashboard/internal/jobstore"
	"qc-dashboard/internal/qc"
	"qc-dashboard/internal/shared/telemetry"
)

const refreshTimeout = 10 * time.Second

// Source reads and creates the backend account.
type Source interface {
	Profile(ctx context.Context) (qc.Profile, error)
	Onboard(ctx context.Context, req qc.OnboardRequest) (qc.OnboardResponse, error)
}

// Subscriber is the bus side the cache listens on.
type Subscriber interface {
	Subscribe(fn events.Handler) (unsubscribe func())
}

// Cache holds the last fetched profile.
type Cache struct {
	src       Source
	sessionID string
	now       func() time.Time

	mu        sync.RWMutex
	profile   *qc.Profile
	fetchedAt time.Time
}

// New builds an empty cache.
func New(src Source, sessionID string) *Cache {
	return &Cache{src: src, sessionID: sessionID, now: time.Now}
}

// Get returns the cached profile, if any.
func (c *Cache) Get() (qc.Profile, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.profile == nil {
		return qc.Profile{}, time.Time{}, false
	}
	return *c.profile, c.fetchedAt, true
}

// Refresh refetches the profile. On failure the cached copy is kept.
func (c *Cache) Refresh(ctx context.Context) (qc.Profile, error) {
	p, err := c.src.Profile(ctx)
	if err != nil {
		return qc.Profile{}, err
	}
	c.mu.Lock()
	c.profile = &p
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return p, nil
}

// EnsureOnboarded fetches the profile and, when the account does not exist
// yet, onboards it with plan first. The bool reports whether onboarding ran.
func (c *Cache) EnsureOnboarded(ctx context.Context, plan string) (qc.Profile, bool, error) {
	p, err := c.Refresh(ctx)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, jobstore.ErrProfileNotFound) {
		return qc.Profile{}, false, err
	}

	resp, err := c.src.Onboard(ctx, qc.OnboardRequest{PlanType: qc.NormalizePlan(plan)})
	if err != nil {
		return qc.Profile{}, false, err
	}
	telemetry.Info("profile.onboarded", map[string]any{
		"session_id":  c.sessionID,
		"team_id":     resp.TeamID,
		"plan_type":   resp.PlanType,
		"is_new_user": resp.IsNewUser,
	})
	p, err = c.Refresh(ctx)
	if err != nil {
		return qc.Profile{}, true, err
	}
	return p, true, nil
}

// Listen refreshes the profile after every job creation or terminal
// arrival. Failures are logged and never reach the publisher.
func (c *Cache) Listen(bus Subscriber) (unsubscribe func()) {
	return bus.Subscribe(func(evt events.Event) {
		if evt.Type != events.JobCreated && evt.Type != events.JobTerminal {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if _, err := c.Refresh(ctx); err != nil {
			telemetry.Warn("profile.refresh_failed", map[string]any{
				"session_id": c.sessionID,
				"job_id":     evt.JobID,
				"error":      err.Error(),
			})
		}
	})
}
