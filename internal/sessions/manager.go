// Package sessions owns signed-in dashboard sessions: their stored
// credential and the per-session runtime (controller, polling tracker,
// profile cache) that lives while the session is in use.
package sessions

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"qc-dashboard/internal/artifacts"
	"qc-dashboard/internal/credentials"
	"qc-dashboard/internal/events"
	"qc-dashboard/internal/jobstore"
	"qc-dashboard/internal/lifecycle"
	"qc-dashboard/internal/profile"
	"qc-dashboard/internal/shared/telemetry"
	"qc-dashboard/internal/tracker"
)

const touchEvery = time.Minute

// Deps configure how runtimes are built.
type Deps struct {
	Repo      Repo
	Refresher credentials.Refresher
	// NewStore builds the job store client acting with tokens.
	NewStore func(tokens oauth2.TokenSource) jobstore.Store
	// NewSource optionally replaces the store as the polling read side.
	NewSource func(tokens oauth2.TokenSource) (jobstore.Source, error)
	Prober    lifecycle.Prober
	Sources   lifecycle.SourcePublisher
	Sink      events.Sink
	Tracker   tracker.Options
	// ProbeTimeout bounds each metadata extraction.
	ProbeTimeout time.Duration
	// ArtifactHosts are the hosts artifact downloads may send the session
	// token to. Every other host is fetched without credentials.
	ArtifactHosts []string
	// Background starts a polling loop per runtime. Without it callers
	// sweep on demand.
	Background  bool
	IdleTimeout time.Duration
	Now         func() time.Time
}

// Runtime is the live state of one session.
type Runtime struct {
	SessionID  string
	UserID     string
	Store      jobstore.Store
	Tracker    *tracker.Tracker
	Controller *lifecycle.Controller
	Profile    *profile.Cache
	Bus        *events.Bus
	HTTP       *http.Client

	lastSeen time.Time
	touched  time.Time
	cancel   context.CancelFunc
	group    *errgroup.Group
	unsubs   []func()
}

// Manager creates, resumes and tears down sessions.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	runtimes map[string]*Runtime
}

// NewManager builds a manager.
func NewManager(deps Deps) *Manager {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IdleTimeout <= 0 {
		deps.IdleTimeout = 30 * time.Minute
	}
	return &Manager{deps: deps, runtimes: make(map[string]*Runtime)}
}

// Open records a new session for cred. pendingPlan is the plan chosen at
// registration, kept until onboarding completes.
func (m *Manager) Open(ctx context.Context, cred credentials.Credential, pendingPlan string) (Session, error) {
	if !cred.Valid() {
		return Session{}, errors.New("credential is required")
	}
	now := m.deps.Now().UTC()
	s := Session{
		ID:           uuid.NewString(),
		UserID:       cred.UserID,
		Email:        cred.Email,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenExpiry:  cred.Expiry,
		PendingPlan:  strings.TrimSpace(pendingPlan),
		CreatedAt:    now,
		LastSeenAt:   now,
	}
	if err := m.deps.Repo.Create(ctx, s); err != nil {
		return Session{}, err
	}
	telemetry.Info("sessions.opened", map[string]any{
		"session_id": s.ID,
		"user_id":    s.UserID,
	})
	return s, nil
}

// Get loads the stored session.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	return m.deps.Repo.Get(ctx, id)
}

// ClearPendingPlan forgets the registration plan once onboarding is done.
func (m *Manager) ClearPendingPlan(ctx context.Context, id string) error {
	return m.deps.Repo.ClearPendingPlan(ctx, id)
}

// Runtime returns the live runtime of session id, building it from the
// stored session when needed.
func (m *Manager) Runtime(ctx context.Context, id string) (*Runtime, error) {
	now := m.deps.Now()

	m.mu.Lock()
	rt, ok := m.runtimes[id]
	if ok {
		rt.lastSeen = now
		touch := now.Sub(rt.touched) >= touchEvery
		if touch {
			rt.touched = now
		}
		m.mu.Unlock()
		if touch {
			if err := m.deps.Repo.Touch(ctx, id, now.UTC()); err != nil && !errors.Is(err, ErrNotFound) {
				telemetry.Warn("sessions.touch_failed", map[string]any{"session_id": id, "error": err.Error()})
			}
		}
		return rt, nil
	}
	m.mu.Unlock()

	s, err := m.deps.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.deps.Repo.Touch(ctx, id, now.UTC()); err != nil {
		return nil, err
	}
	built, err := m.build(s)
	if err != nil {
		return nil, err
	}
	built.lastSeen = now
	built.touched = now

	m.mu.Lock()
	if existing, ok := m.runtimes[id]; ok {
		m.mu.Unlock()
		built.teardown()
		return existing, nil
	}
	m.runtimes[id] = built
	m.mu.Unlock()
	return built, nil
}

func (m *Manager) build(s Session) (*Runtime, error) {
	repo := m.deps.Repo
	persist := func(ctx context.Context, cred credentials.Credential) error {
		return repo.UpdateCredential(ctx, s.ID, cred.AccessToken, cred.RefreshToken, cred.Expiry)
	}
	tokens := oauth2.ReuseTokenSource(nil, credentials.TokenSource(s.Credential(), m.deps.Refresher, persist))

	store := m.deps.NewStore(tokens)
	var source jobstore.Source = store
	if m.deps.NewSource != nil {
		alt, err := m.deps.NewSource(tokens)
		if err != nil {
			return nil, err
		}
		source = alt
	}

	bus := events.NewBus()
	opts := m.deps.Tracker
	opts.SessionID = s.ID
	tr := tracker.New(source, bus, opts)
	ctrl := lifecycle.New(lifecycle.Deps{
		Prober:  m.deps.Prober,
		Jobs:    store,
		Sources: m.deps.Sources,
		Tracker: tr,
		Events:  bus,
	}, lifecycle.Options{Owner: s.UserID, SessionID: s.ID, ProbeTimeout: m.deps.ProbeTimeout})
	prof := profile.New(store, s.ID)

	rt := &Runtime{
		SessionID:  s.ID,
		UserID:     s.UserID,
		Store:      store,
		Tracker:    tr,
		Controller: ctrl,
		Profile:    prof,
		Bus:        bus,
		HTTP:       artifacts.NewClient(tokens, m.deps.ArtifactHosts...),
	}
	rt.unsubs = append(rt.unsubs, prof.Listen(bus))
	if m.deps.Sink != nil {
		rt.unsubs = append(rt.unsubs, events.Forward(bus, m.deps.Sink))
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	rt.cancel = cancel
	rt.group = g
	if m.deps.Background {
		g.Go(func() error { return tr.Run(gctx) })
	}
	return rt, nil
}

func (rt *Runtime) teardown() {
	rt.cancel()
	_ = rt.group.Wait()
	rt.Controller.Close()
	for _, unsub := range rt.unsubs {
		unsub()
	}
}

// Close tears down the runtime and deletes the session.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	rt, ok := m.runtimes[id]
	delete(m.runtimes, id)
	m.mu.Unlock()
	if ok {
		rt.teardown()
	}
	if err := m.deps.Repo.Delete(ctx, id); err != nil {
		return err
	}
	telemetry.Info("sessions.closed", map[string]any{"session_id": id})
	return nil
}

// Reap tears down runtimes idle longer than the idle timeout and deletes
// idle stored sessions. It returns how many runtimes were released.
func (m *Manager) Reap(ctx context.Context) (int, error) {
	cutoff := m.deps.Now().Add(-m.deps.IdleTimeout)

	m.mu.Lock()
	var idle []*Runtime
	for id, rt := range m.runtimes {
		if rt.lastSeen.Before(cutoff) {
			idle = append(idle, rt)
			delete(m.runtimes, id)
		}
	}
	m.mu.Unlock()

	for _, rt := range idle {
		rt.teardown()
	}
	deleted, err := m.deps.Repo.DeleteIdle(ctx, cutoff.UTC())
	if len(idle) > 0 || deleted > 0 {
		telemetry.Info("sessions.reaped", map[string]any{
			"runtimes": len(idle),
			"sessions": deleted,
		})
	}
	return len(idle), err
}

// RunReaper reaps every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Reap(ctx); err != nil && ctx.Err() == nil {
				telemetry.Warn("sessions.reap_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Shutdown tears down every live runtime without deleting sessions.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*Runtime, 0, len(m.runtimes))
	for id, rt := range m.runtimes {
		all = append(all, rt)
		delete(m.runtimes, id)
	}
	m.mu.Unlock()
	for _, rt := range all {
		rt.teardown()
	}
}
