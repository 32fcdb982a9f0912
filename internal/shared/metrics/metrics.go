package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	jobsSubmittedTotal    atomic.Uint64
	jobsSubmitFailedTotal atomic.Uint64
	pollTicksTotal        atomic.Uint64
	pollErrorsTotal       atomic.Uint64
	eventsReceivedTotal   atomic.Uint64
	eventsRecordedTotal   atomic.Uint64
	eventsFailedTotal     atomic.Uint64
	eventsDroppedTotal    atomic.Uint64

	terminalMu     sync.Mutex
	jobsTerminal   = map[string]uint64{}
	probeDurations = newHistogram([]float64{50, 100, 250, 500, 1000, 2000, 5000, 10000})
)

// IncJobSubmitted counts a job accepted by the job store.
func IncJobSubmitted() {
	jobsSubmittedTotal.Add(1)
}

// IncJobSubmitFailed counts a rejected or failed submission.
func IncJobSubmitFailed() {
	jobsSubmitFailedTotal.Add(1)
}

// IncJobTerminal counts a job observed reaching status.
func IncJobTerminal(status string) {
	terminalMu.Lock()
	jobsTerminal[status]++
	terminalMu.Unlock()
}

// IncPollTick counts one polling sweep.
func IncPollTick() {
	pollTicksTotal.Add(1)
}

// IncPollError counts a sweep that failed to reach the job store.
func IncPollError() {
	pollErrorsTotal.Add(1)
}

// IncEventReceived counts a queue message picked up by the event consumer.
func IncEventReceived() {
	eventsReceivedTotal.Add(1)
}

// IncEventRecorded counts an event written to the audit table.
func IncEventRecorded() {
	eventsRecordedTotal.Add(1)
}

// IncEventFailed counts an event left on the queue for redelivery.
func IncEventFailed() {
	eventsFailedTotal.Add(1)
}

// IncEventDropped counts an unreadable message deleted without recording.
func IncEventDropped() {
	eventsDroppedTotal.Add(1)
}

// ObserveProbeDurationMs records how long metadata extraction took.
func ObserveProbeDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	probeDurations.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "jobs_submitted_total", "Jobs accepted by the job store", jobsSubmittedTotal.Load())
	writeCounter(&buf, "jobs_submit_failed_total", "Job submissions that failed", jobsSubmitFailedTotal.Load())
	writeTerminal(&buf)
	writeCounter(&buf, "poll_ticks_total", "Polling sweeps executed", pollTicksTotal.Load())
	writeCounter(&buf, "poll_errors_total", "Polling sweeps that failed", pollErrorsTotal.Load())
	writeCounter(&buf, "events_received_total", "Event queue messages received", eventsReceivedTotal.Load())
	writeCounter(&buf, "events_recorded_total", "Events written to the audit table", eventsRecordedTotal.Load())
	writeCounter(&buf, "events_failed_total", "Events left for redelivery", eventsFailedTotal.Load())
	writeCounter(&buf, "events_dropped_total", "Unreadable event messages deleted", eventsDroppedTotal.Load())
	writeHistogram(&buf, "probe_duration_ms", "Metadata extraction duration in milliseconds", probeDurations.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeTerminal(buf *bytes.Buffer) {
	terminalMu.Lock()
	statuses := make([]string, 0, len(jobsTerminal))
	for s := range jobsTerminal {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	values := make([]uint64, len(statuses))
	for i, s := range statuses {
		values[i] = jobsTerminal[s]
	}
	terminalMu.Unlock()

	fmt.Fprintf(buf, "# HELP %s %s\n", "jobs_terminal_total", "Jobs observed reaching a terminal status")
	fmt.Fprintf(buf, "# TYPE %s counter\n", "jobs_terminal_total")
	for i, s := range statuses {
		fmt.Fprintf(buf, "jobs_terminal_total{status=%q} %d\n", s, values[i])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
