// Package lifecycle owns the path from a picked video file to a submitted
// job: metadata extraction, cost estimate, submission and hand-off to the
// polling tracker.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"qc-dashboard/internal/events"
	"qc-dashboard/internal/probe"
	"qc-dashboard/internal/qc"
	"qc-dashboard/internal/shared/metrics"
	"qc-dashboard/internal/shared/storage/object"
	"qc-dashboard/internal/shared/telemetry"
	"qc-dashboard/internal/shared/util"
)

// State is the controller's position in the submission flow.
type State string

const (
	StateIdle               State = "idle"
	StateMetadataExtracting State = "metadata_extracting"
	StateReady              State = "ready"
	StateSubmitting         State = "submitting"
)

const defaultProbeTimeout = time.Minute

var (
	ErrNotReady = errors.New("no video is ready to submit")
	ErrBusy     = errors.New("a submission is in progress")
	ErrClosed   = errors.New("controller is closed")
)

// Prober extracts metadata from a local file.
type Prober interface {
	Probe(ctx context.Context, path string) (probe.Metadata, error)
}

// JobCreator submits jobs to the job store.
type JobCreator interface {
	CreateJob(ctx context.Context, req qc.CreateJobRequest) (qc.Job, error)
}

// SourcePublisher makes the local file reachable by the job store.
type SourcePublisher interface {
	Put(ctx context.Context, owner, fileName string, r io.Reader) (object.Object, error)
}

// JobTracker follows submitted jobs.
type JobTracker interface {
	Track(job qc.Job)
}

// EventPublisher receives lifecycle events.
type EventPublisher interface {
	Publish(evt events.Event)
}

// File is a picked video on local disk. Release, when set, is called once
// the controller no longer needs the file.
type File struct {
	Name    string
	Path    string
	Release func()
}

// Candidate is the picked file with its derived metadata.
type Candidate struct {
	FileName      string `json:"file_name"`
	DurationSec   int    `json:"duration_sec"`
	DurationLabel string `json:"duration_label,omitempty"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	Thumbnail     string `json:"thumbnail_url,omitempty"`
}

// Snapshot is a consistent view of the controller.
type Snapshot struct {
	State         State      `json:"state"`
	Candidate     *Candidate `json:"candidate,omitempty"`
	Error         *Failure   `json:"error,omitempty"`
	PickerEnabled bool       `json:"picker_enabled"`
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Prober  Prober
	Jobs    JobCreator
	Sources SourcePublisher
	Tracker JobTracker
	Events  EventPublisher
}

// Options identify the session a controller belongs to.
type Options struct {
	Owner     string
	SessionID string
	// ProbeTimeout bounds metadata extraction; a probe still running after
	// it fails as unreadable. Zero means one minute.
	ProbeTimeout time.Duration
	Now          func() time.Time
}

// Controller runs one session's submission flow. At most one candidate is
// in flight; selecting a new file cancels and discards the previous probe.
type Controller struct {
	deps Deps
	opts Options

	mu      sync.Mutex
	state   State
	gen     uint64
	cancel  context.CancelFunc
	settled chan struct{}
	file    *File
	cand    *Candidate
	failure *Failure
	closed  bool
}

// New builds an idle controller.
func New(deps Deps, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	settled := make(chan struct{})
	close(settled)
	return &Controller{deps: deps, opts: opts, state: StateIdle, settled: settled}
}

// Select replaces any current candidate with f and starts extracting its
// metadata in the background.
func (c *Controller) Select(f File) error {
	if err := util.CheckVideoName(f.Name); err != nil {
		release(&f)
		return &Failure{Kind: KindValidation, Message: "Unsupported file. Use MP4, MOV, MKV or WebM.", Action: ActionChooseAnotherFile}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		release(&f)
		return ErrClosed
	}
	if c.state == StateSubmitting {
		release(&f)
		return ErrBusy
	}
	c.discardLocked()

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ProbeTimeout)
	settled := make(chan struct{})
	c.cancel = cancel
	c.settled = settled
	c.file = &f
	c.cand = &Candidate{FileName: f.Name}
	c.failure = nil
	c.state = StateMetadataExtracting

	go c.runProbe(ctx, gen, f.Path, settled)
	return nil
}

func (c *Controller) runProbe(ctx context.Context, gen uint64, path string, settled chan struct{}) {
	defer close(settled)
	meta, err := c.deps.Prober.Probe(ctx, path)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		telemetry.Warn("lifecycle.probe_timeout", map[string]any{
			"session_id": c.opts.SessionID,
			"timeout_ms": c.opts.ProbeTimeout.Milliseconds(),
		})
		err = &probe.MetadataError{Path: path, Reason: "metadata extraction timed out", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = nil
	if err != nil {
		c.failure = Classify(err)
		c.discardLocked()
		c.state = StateIdle
		return
	}
	c.cand.DurationSec = meta.DurationSec
	c.cand.DurationLabel = qc.FormatDuration(meta.DurationSec)
	c.cand.Width = meta.Width
	c.cand.Height = meta.Height
	c.cand.Thumbnail = meta.Thumbnail
	c.state = StateReady
}

// AwaitSettled blocks until the current probe, if any, has finished.
func (c *Controller) AwaitSettled(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	settled := c.settled
	c.mu.Unlock()

	select {
	case <-settled:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{State: c.state, PickerEnabled: c.state != StateSubmitting && !c.closed}
	if c.cand != nil {
		cand := *c.cand
		snap.Candidate = &cand
	}
	if c.failure != nil {
		failure := *c.failure
		snap.Error = &failure
	}
	return snap
}

// Remove drops the candidate and any error, returning to idle.
func (c *Controller) Remove() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSubmitting {
		return ErrBusy
	}
	c.gen++
	c.discardLocked()
	c.failure = nil
	c.state = StateIdle
	return nil
}

// Estimate returns the credit cost of submitting the candidate in mode.
func (c *Controller) Estimate(mode qc.Mode) (int, error) {
	if mode.Multiplier() == 0 {
		return 0, qc.ErrInvalidMode
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady || c.cand == nil {
		return 0, ErrNotReady
	}
	return qc.EstimateCost(c.cand.DurationSec, mode), nil
}

// Submit publishes the source and creates the job. On success the
// candidate is cleared and the job handed to the tracker; on failure the
// candidate stays ready and the error is kept in the snapshot.
func (c *Controller) Submit(ctx context.Context, mode qc.Mode) (qc.Job, error) {
	if mode.Multiplier() == 0 {
		return qc.Job{}, qc.ErrInvalidMode
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return qc.Job{}, ErrClosed
	}
	if c.state != StateReady || c.cand == nil || c.file == nil {
		c.mu.Unlock()
		return qc.Job{}, ErrNotReady
	}
	c.state = StateSubmitting
	c.failure = nil
	cand := *c.cand
	file := *c.file
	c.mu.Unlock()

	job, err := c.submit(ctx, file, cand, mode)
	if err != nil {
		metrics.IncJobSubmitFailed()
		failure := Classify(err)
		telemetry.Warn("lifecycle.submit_failed", map[string]any{
			"session_id": c.opts.SessionID,
			"kind":       failure.Kind,
			"error":      err.Error(),
		})
		c.mu.Lock()
		if c.state == StateSubmitting {
			c.state = StateReady
			c.failure = failure
		}
		c.mu.Unlock()
		return qc.Job{}, err
	}

	c.mu.Lock()
	c.gen++
	c.discardLocked()
	c.failure = nil
	c.state = StateIdle
	c.mu.Unlock()

	metrics.IncJobSubmitted()
	telemetry.Info("lifecycle.job_submitted", map[string]any{
		"session_id":   c.opts.SessionID,
		"job_id":       job.ID,
		"mode":         string(mode),
		"duration_sec": cand.DurationSec,
	})
	if c.deps.Tracker != nil {
		c.deps.Tracker.Track(job)
	}
	if c.deps.Events != nil {
		c.deps.Events.Publish(events.Event{
			Type:      events.JobCreated,
			SessionID: c.opts.SessionID,
			JobID:     job.ID,
			Status:    job.Status,
			At:        c.opts.Now(),
		})
	}
	return job, nil
}

func (c *Controller) submit(ctx context.Context, file File, cand Candidate, mode qc.Mode) (qc.Job, error) {
	f, err := os.Open(file.Path)
	if err != nil {
		return qc.Job{}, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	obj, err := c.deps.Sources.Put(ctx, c.opts.Owner, cand.FileName, f)
	if err != nil {
		return qc.Job{}, fmt.Errorf("publish source: %w", err)
	}
	return c.deps.Jobs.CreateJob(ctx, qc.CreateJobRequest{
		VideoURL:     obj.Locator,
		DurationSec:  cand.DurationSec,
		Mode:         mode,
		ThumbnailURL: cand.Thumbnail,
	})
}

// Close cancels any probe and releases the candidate file.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.gen++
	c.discardLocked()
	c.state = StateIdle
}

// discardLocked cancels the probe and releases the candidate.
func (c *Controller) discardLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	release(c.file)
	c.file = nil
	c.cand = nil
}

func release(f *File) {
	if f != nil && f.Release != nil {
		f.Release()
	}
}
