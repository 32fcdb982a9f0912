// Package tracker runs the shared polling sweep that follows a session's jobs
// until they reach a terminal status.
package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"qc-dashboard/internal/events"
	"qc-dashboard/internal/jobstore"
	"qc-dashboard/internal/qc"
	"qc-dashboard/internal/shared/metrics"
	"qc-dashboard/internal/shared/telemetry"
)

// RecentLimit is the default size of the completed-jobs feed.
const RecentLimit = 6

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(evt events.Event)
}

// Options configures a Tracker.
type Options struct {
	SessionID         string
	ActiveInterval    time.Duration
	SummaryInterval   time.Duration
	AssumedProcessing time.Duration
	Now               func() time.Time
}

// Defaults returns the standard polling cadence.
func Defaults() Options {
	return Options{
		ActiveInterval:    3 * time.Second,
		SummaryInterval:   5 * time.Second,
		AssumedProcessing: 15 * time.Second,
	}
}

// ActiveJob is a non-terminal job with its display progress.
type ActiveJob struct {
	qc.Job
	DisplayProgress int `json:"display_progress"`
}

type entry struct {
	job          qc.Job
	transitions  []qc.Transition
	terminalSeen bool
}

// Tracker keeps the last-known state of every job it has seen.
type Tracker struct {
	source jobstore.Source
	pub    Publisher
	opts   Options

	mu        sync.Mutex
	jobs      map[string]*entry
	lastSweep time.Time
}

// New builds a tracker reading from source. pub may be nil.
func New(source jobstore.Source, pub Publisher, opts Options) *Tracker {
	def := Defaults()
	if opts.ActiveInterval <= 0 {
		opts.ActiveInterval = def.ActiveInterval
	}
	if opts.SummaryInterval <= 0 {
		opts.SummaryInterval = def.SummaryInterval
	}
	if opts.AssumedProcessing <= 0 {
		opts.AssumedProcessing = def.AssumedProcessing
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{source: source, pub: pub, opts: opts, jobs: make(map[string]*entry)}
}

// Track starts following job, typically one just created.
func (t *Tracker) Track(job qc.Job) {
	if job.ID == "" {
		return
	}
	t.publish(t.apply([]qc.Job{job}))
}

// Sweep re-lists the team's jobs once and applies them in fetch order. A
// failed fetch leaves every last-known status untouched; the error is
// returned for the caller to log, never to surface.
func (t *Tracker) Sweep(ctx context.Context) error {
	metrics.IncPollTick()
	jobs, err := t.source.ListJobs(ctx)
	if err != nil {
		if ctx.Err() == nil {
			metrics.IncPollError()
		}
		return err
	}
	t.mu.Lock()
	t.lastSweep = t.opts.Now()
	t.mu.Unlock()
	t.publish(t.apply(jobs))
	return nil
}

// SweepIfStale sweeps only when the last successful sweep is older than
// maxAge. It is used where no background loop runs.
func (t *Tracker) SweepIfStale(ctx context.Context, maxAge time.Duration) error {
	t.mu.Lock()
	fresh := !t.lastSweep.IsZero() && t.opts.Now().Sub(t.lastSweep) < maxAge
	t.mu.Unlock()
	if fresh {
		return nil
	}
	return t.Sweep(ctx)
}

// Refresh fetches a single job and applies it.
func (t *Tracker) Refresh(ctx context.Context, id string) (qc.Job, error) {
	job, err := t.source.GetJob(ctx, id)
	if err != nil {
		return qc.Job{}, err
	}
	t.publish(t.apply([]qc.Job{job}))
	got, _ := t.Job(id)
	return got, nil
}

// Run polls until ctx is done: active jobs every ActiveInterval, the whole
// feed every SummaryInterval.
func (t *Tracker) Run(ctx context.Context) error {
	active := time.NewTicker(t.opts.ActiveInterval)
	defer active.Stop()
	summary := time.NewTicker(t.opts.SummaryInterval)
	defer summary.Stop()

	t.tick(ctx, "initial")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-active.C:
			if t.HasActive() {
				t.tick(ctx, "active")
			}
		case <-summary.C:
			t.tick(ctx, "summary")
		}
	}
}

func (t *Tracker) tick(ctx context.Context, feed string) {
	if err := t.Sweep(ctx); err != nil && ctx.Err() == nil {
		telemetry.Warn("tracker.poll_failed", map[string]any{
			"session_id": t.opts.SessionID,
			"feed":       feed,
			"error":      err.Error(),
		})
	}
}

// HasActive reports whether any followed job is still pending or processing.
func (t *Tracker) HasActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.jobs {
		if e.job.Status.IsActive() {
			return true
		}
	}
	return false
}

// Active returns pending and processing jobs newest first with display
// progress. Jobs in a status the store added later are left out.
func (t *Tracker) Active(now time.Time) []ActiveJob {
	t.mu.Lock()
	out := make([]ActiveJob, 0, len(t.jobs))
	for _, e := range t.jobs {
		if !e.job.Status.IsActive() {
			continue
		}
		out = append(out, ActiveJob{Job: e.job, DisplayProgress: qc.EstimateProgress(e.job, now, t.opts.AssumedProcessing)})
	}
	t.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return newer(out[i].Job, out[j].Job) })
	return out
}

// Recent returns up to limit completed jobs, newest first.
func (t *Tracker) Recent(limit int) []qc.Job {
	if limit <= 0 {
		limit = RecentLimit
	}
	t.mu.Lock()
	out := make([]qc.Job, 0, len(t.jobs))
	for _, e := range t.jobs {
		if e.job.Status == qc.StatusCompleted {
			out = append(out, e.job)
		}
	}
	t.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return newer(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Job returns the last-known state of id.
func (t *Tracker) Job(id string) (qc.Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[id]
	if !ok {
		return qc.Job{}, false
	}
	return e.job, true
}

// Transitions returns the status changes observed for id, oldest first.
func (t *Tracker) Transitions(id string) []qc.Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.jobs[id]
	if !ok {
		return nil
	}
	return append([]qc.Transition(nil), e.transitions...)
}

// apply merges fetched jobs into the state and returns the terminal events
// to publish once the lock is released.
func (t *Tracker) apply(jobs []qc.Job) []events.Event {
	now := t.opts.Now()
	var out []events.Event

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, job := range jobs {
		if job.ID == "" {
			continue
		}
		e, ok := t.jobs[job.ID]
		if !ok {
			t.jobs[job.ID] = &entry{job: job, terminalSeen: job.Status.IsTerminal()}
			continue
		}
		prev := e.job.Status
		if prev == job.Status {
			e.job = job
			continue
		}
		steps := qc.Path(prev, job.Status)
		if steps == nil {
			telemetry.Warn("tracker.transition_ignored", map[string]any{
				"session_id":        t.opts.SessionID,
				"job_id":            job.ID,
				"status_transition": string(prev) + "->" + string(job.Status),
			})
			continue
		}
		from := prev
		for _, to := range steps {
			e.transitions = append(e.transitions, qc.Transition{From: from, To: to, At: now})
			telemetry.Info("tracker.status_changed", map[string]any{
				"session_id":        t.opts.SessionID,
				"job_id":            job.ID,
				"status_transition": string(from) + "->" + string(to),
			})
			from = to
		}
		e.job = job
		if job.Status.IsTerminal() && !e.terminalSeen {
			e.terminalSeen = true
			metrics.IncJobTerminal(string(job.Status))
			out = append(out, events.Event{
				Type:      events.JobTerminal,
				SessionID: t.opts.SessionID,
				JobID:     job.ID,
				Status:    job.Status,
				At:        now,
			})
		}
	}
	return out
}

func (t *Tracker) publish(evts []events.Event) {
	if t.pub == nil {
		return
	}
	for _, evt := range evts {
		t.pub.Publish(evt)
	}
}

func newer(a, b qc.Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
