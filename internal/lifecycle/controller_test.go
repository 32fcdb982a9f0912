package lifecycle

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qc-dashboard/internal/events"
	"qc-dashboard/internal/jobstore"
	"qc-dashboard/internal/probe"
	"qc-dashboard/internal/qc"
	"qc-dashboard/internal/shared/storage/object"
)

type gatedProber struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	meta  map[string]probe.Metadata
	errs  map[string]error
}

func newGatedProber() *gatedProber {
	return &gatedProber{gates: map[string]chan struct{}{}, meta: map[string]probe.Metadata{}, errs: map[string]error{}}
}

func (p *gatedProber) gate(path string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.gates[path]
	if !ok {
		ch = make(chan struct{})
		p.gates[path] = ch
	}
	return ch
}

func (p *gatedProber) Probe(ctx context.Context, path string) (probe.Metadata, error) {
	select {
	case <-p.gate(path):
	case <-ctx.Done():
		return probe.Metadata{}, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[path]; err != nil {
		return probe.Metadata{}, err
	}
	return p.meta[path], nil
}

type fakeJobs struct {
	mu   sync.Mutex
	reqs []qc.CreateJobRequest
	err  error
}

func (f *fakeJobs) CreateJob(ctx context.Context, req qc.CreateJobRequest) (qc.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return qc.Job{}, f.err
	}
	return qc.Job{ID: "job-1", Status: qc.StatusPending, Mode: req.Mode, DurationSec: req.DurationSec, VideoURL: req.VideoURL}, nil
}

type fakeSources struct{}

func (fakeSources) Put(ctx context.Context, owner, fileName string, r io.Reader) (object.Object, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return object.Object{}, err
	}
	return object.Object{Key: owner + "/" + fileName, Locator: "mock://" + fileName}, nil
}

type fakeTracker struct {
	mu      sync.Mutex
	tracked []qc.Job
}

func (f *fakeTracker) Track(job qc.Job) {
	f.mu.Lock()
	f.tracked = append(f.tracked, job)
	f.mu.Unlock()
}

type fakeEvents struct {
	mu   sync.Mutex
	evts []events.Event
}

func (f *fakeEvents) Publish(evt events.Event) {
	f.mu.Lock()
	f.evts = append(f.evts, evt)
	f.mu.Unlock()
}

type harness struct {
	ctrl    *Controller
	prober  *gatedProber
	jobs    *fakeJobs
	tracker *fakeTracker
	events  *fakeEvents
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		prober:  newGatedProber(),
		jobs:    &fakeJobs{},
		tracker: &fakeTracker{},
		events:  &fakeEvents{},
		dir:     t.TempDir(),
	}
	h.ctrl = New(Deps{
		Prober:  h.prober,
		Jobs:    h.jobs,
		Sources: fakeSources{},
		Tracker: h.tracker,
		Events:  h.events,
	}, Options{Owner: "user-1", SessionID: "s-1"})
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) file(t *testing.T, name string, released *atomic.Int32) File {
	t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte("video-bytes"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return File{Name: name, Path: path, Release: func() {
		if released != nil {
			released.Add(1)
		}
	}}
}

func settle(t *testing.T, c *Controller) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := c.AwaitSettled(ctx)
	if err != nil {
		t.Fatalf("await settled: %v", err)
	}
	return snap
}

func (h *harness) ready(t *testing.T, name string, duration int) {
	t.Helper()
	h.prober.meta[filepath.Join(h.dir, name)] = probe.Metadata{DurationSec: duration, Thumbnail: "data:image/jpeg;base64,AA=="}
	if err := h.ctrl.Select(h.file(t, name, nil)); err != nil {
		t.Fatalf("select: %v", err)
	}
	close(h.prober.gate(filepath.Join(h.dir, name)))
	if snap := settle(t, h.ctrl); snap.State != StateReady {
		t.Fatalf("expected ready, got %+v", snap)
	}
}

func TestSelectionReplacesInFlightProbe(t *testing.T) {
	h := newHarness(t)
	var firstReleased atomic.Int32
	first := h.file(t, "first.mp4", &firstReleased)
	second := h.file(t, "second.mov", nil)
	h.prober.meta[first.Path] = probe.Metadata{DurationSec: 10}
	h.prober.meta[second.Path] = probe.Metadata{DurationSec: 20}

	if err := h.ctrl.Select(first); err != nil {
		t.Fatalf("select first: %v", err)
	}
	if err := h.ctrl.Select(second); err != nil {
		t.Fatalf("select second: %v", err)
	}
	if firstReleased.Load() != 1 {
		t.Fatalf("expected replaced file released")
	}
	close(h.prober.gate(second.Path))
	close(h.prober.gate(first.Path))

	snap := settle(t, h.ctrl)
	if snap.State != StateReady || snap.Candidate == nil {
		t.Fatalf("expected ready candidate, got %+v", snap)
	}
	if snap.Candidate.FileName != "second.mov" || snap.Candidate.DurationSec != 20 {
		t.Fatalf("expected latest candidate, got %+v", snap.Candidate)
	}
}

func TestMetadataFailureDiscardsCandidate(t *testing.T) {
	h := newHarness(t)
	var released atomic.Int32
	f := h.file(t, "broken.mkv", &released)
	h.prober.errs[f.Path] = &probe.MetadataError{Path: f.Path, Reason: "no video stream"}

	if err := h.ctrl.Select(f); err != nil {
		t.Fatalf("select: %v", err)
	}
	close(h.prober.gate(f.Path))
	snap := settle(t, h.ctrl)

	if snap.State != StateIdle || snap.Candidate != nil {
		t.Fatalf("expected idle without candidate, got %+v", snap)
	}
	if snap.Error == nil || snap.Error.Kind != KindMetadata || snap.Error.Action != ActionChooseAnotherFile {
		t.Fatalf("expected metadata error, got %+v", snap.Error)
	}
	if released.Load() != 1 {
		t.Fatalf("expected file released")
	}
}

func TestHungProbeTimesOutAsMetadataFailure(t *testing.T) {
	h := newHarness(t)
	ctrl := New(Deps{
		Prober:  h.prober,
		Jobs:    h.jobs,
		Sources: fakeSources{},
		Tracker: h.tracker,
		Events:  h.events,
	}, Options{Owner: "user-1", SessionID: "s-1", ProbeTimeout: 20 * time.Millisecond})
	t.Cleanup(ctrl.Close)

	var released atomic.Int32
	// The gate is never opened, so only the timeout ends the probe.
	if err := ctrl.Select(h.file(t, "truncated.mp4", &released)); err != nil {
		t.Fatalf("select: %v", err)
	}
	snap := settle(t, ctrl)

	if snap.State != StateIdle || snap.Candidate != nil {
		t.Fatalf("expected idle without candidate, got %+v", snap)
	}
	if snap.Error == nil || snap.Error.Kind != KindMetadata || snap.Error.Action != ActionChooseAnotherFile {
		t.Fatalf("expected metadata failure, got %+v", snap.Error)
	}
	if released.Load() != 1 {
		t.Fatalf("expected file released")
	}
}

func TestUnsupportedFileIsRejected(t *testing.T) {
	h := newHarness(t)
	err := h.ctrl.Select(File{Name: "notes.txt", Path: "/tmp/notes.txt"})
	var f *Failure
	if !errors.As(err, &f) || f.Kind != KindValidation {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if h.ctrl.Snapshot().State != StateIdle {
		t.Fatalf("state must not change")
	}
}

func TestRemoveClearsEverything(t *testing.T) {
	h := newHarness(t)
	h.ready(t, "clip.mp4", 30)

	if err := h.ctrl.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	snap := h.ctrl.Snapshot()
	if snap.State != StateIdle || snap.Candidate != nil || snap.Error != nil || !snap.PickerEnabled {
		t.Fatalf("expected clean idle snapshot, got %+v", snap)
	}
}

func TestEstimate(t *testing.T) {
	h := newHarness(t)
	if _, err := h.ctrl.Estimate(qc.ModePolisher); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	h.ready(t, "clip.mp4", 47)

	cases := []struct {
		mode qc.Mode
		want int
	}{
		{mode: qc.ModePolisher, want: 47},
		{mode: qc.ModeGuardian, want: 94},
	}
	for _, tc := range cases {
		got, err := h.ctrl.Estimate(tc.mode)
		if err != nil || got != tc.want {
			t.Fatalf("Estimate(%s) = %d, %v; want %d", tc.mode, got, err, tc.want)
		}
	}
	if _, err := h.ctrl.Estimate("turbo"); !errors.Is(err, qc.ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestSubmitSuccessClearsCandidateAndHandsOff(t *testing.T) {
	h := newHarness(t)
	h.ready(t, "clip.mp4", 47)

	job, err := h.ctrl.Submit(context.Background(), qc.ModeGuardian)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != qc.StatusPending {
		t.Fatalf("expected pending job, got %s", job.Status)
	}
	req := h.jobs.reqs[0]
	if req.VideoURL != "mock://clip.mp4" || req.DurationSec != 47 || req.Mode != qc.ModeGuardian || req.ThumbnailURL == "" {
		t.Fatalf("unexpected create request %+v", req)
	}
	snap := h.ctrl.Snapshot()
	if snap.State != StateIdle || snap.Candidate != nil {
		t.Fatalf("expected candidate cleared, got %+v", snap)
	}
	if len(h.tracker.tracked) != 1 || h.tracker.tracked[0].ID != "job-1" {
		t.Fatalf("expected job tracked, got %+v", h.tracker.tracked)
	}
	if len(h.events.evts) != 1 || h.events.evts[0].Type != events.JobCreated {
		t.Fatalf("expected job created event, got %+v", h.events.evts)
	}
}

func TestSubmitFailureKeepsCandidate(t *testing.T) {
	h := newHarness(t)
	h.ready(t, "clip.mp4", 12)
	h.jobs.err = &jobstore.APIError{Status: 402, Message: "Insufficient credits"}

	if _, err := h.ctrl.Submit(context.Background(), qc.ModePolisher); err == nil {
		t.Fatalf("expected error")
	}
	snap := h.ctrl.Snapshot()
	if snap.State != StateReady || snap.Candidate == nil || snap.Candidate.DurationSec != 12 {
		t.Fatalf("expected ready with candidate kept, got %+v", snap)
	}
	if snap.Error == nil || snap.Error.Message != "Insufficient credits" {
		t.Fatalf("expected message surfaced, got %+v", snap.Error)
	}
	if len(h.tracker.tracked) != 0 || len(h.events.evts) != 0 {
		t.Fatalf("failed submission must not hand off")
	}
}

func TestSubmitWithoutCandidate(t *testing.T) {
	h := newHarness(t)
	if _, err := h.ctrl.Submit(context.Background(), qc.ModePolisher); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if len(h.jobs.reqs) != 0 {
		t.Fatalf("expected no create request")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind string
	}{
		{name: "auth", err: jobstore.ErrNoCredential, kind: KindAuthentication},
		{name: "unauthorized", err: &jobstore.APIError{Status: 401, Message: "Unauthorized"}, kind: KindAuthentication},
		{name: "validation", err: &jobstore.APIError{Status: 422, Message: "bad"}, kind: KindValidation},
		{name: "server", err: &jobstore.APIError{Status: 503, Message: "Service Unavailable"}, kind: KindTransport},
		{name: "transport", err: jobstore.ErrTransport, kind: KindTransport},
		{name: "metadata", err: &probe.MetadataError{Reason: "x"}, kind: KindMetadata},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got.Kind != tc.kind {
				t.Fatalf("expected %s, got %+v", tc.kind, got)
			}
		})
	}
}
