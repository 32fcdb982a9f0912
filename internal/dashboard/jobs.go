package dashboard

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"qc-dashboard/internal/artifacts"
	"qc-dashboard/internal/qc"
	"qc-dashboard/internal/sessions"
	"qc-dashboard/internal/shared/server/middleware"
	"qc-dashboard/internal/shared/server/respond"
	"qc-dashboard/internal/shared/telemetry"
	"qc-dashboard/internal/tracker"
)

// jobView is a job with the labels the dashboard renders.
type jobView struct {
	qc.Job
	FileName        string `json:"file_name"`
	DurationLabel   string `json:"duration_label"`
	TimeAgo         string `json:"time_ago"`
	CommentCount    int    `json:"comment_count"`
	DisplayProgress *int   `json:"display_progress,omitempty"`
}

func toJobView(job qc.Job, now time.Time) jobView {
	return jobView{
		Job:           job,
		FileName:      qc.SourceFileName(job.VideoURL),
		DurationLabel: qc.FormatDuration(job.DurationSec),
		TimeAgo:       qc.TimeAgo(job.CreatedAt, now),
		CommentCount:  qc.CommentCount(job),
	}
}

type jobDetail struct {
	jobView
	Category   string            `json:"category,omitempty"`
	Categories []string          `json:"categories,omitempty"`
	Comments   []qc.Comment      `json:"comments"`
	History    []qc.Transition   `json:"transitions"`
	Downloads  map[string]string `json:"downloads,omitempty"`
}

func (h *Handler) activeJobs(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	h.sweepIfStale(c, rt)
	now := h.opts.Now()
	active := rt.Tracker.Active(now)
	out := make([]jobView, 0, len(active))
	for _, a := range active {
		v := toJobView(a.Job, now)
		progress := a.DisplayProgress
		v.DisplayProgress = &progress
		out = append(out, v)
	}
	respond.OK(c, gin.H{"jobs": out, "polling": rt.Tracker.HasActive()})
}

func (h *Handler) recentJobs(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	h.sweepIfStale(c, rt)
	limit := tracker.RecentLimit
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed < limit {
			limit = parsed
		}
	}
	now := h.opts.Now()
	recent := rt.Tracker.Recent(limit)
	out := make([]jobView, 0, len(recent))
	for _, job := range recent {
		out = append(out, toJobView(job, now))
	}
	respond.OK(c, gin.H{"jobs": out})
}

func (h *Handler) job(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	job, ok := h.loadJob(c, rt)
	if !ok {
		return
	}
	category := strings.TrimSpace(c.Query("category"))
	detail := jobDetail{
		jobView:  toJobView(job, h.opts.Now()),
		Category: category,
		Comments: []qc.Comment{},
		History:  rt.Tracker.Transitions(job.ID),
	}
	if job.Result != nil {
		detail.Comments = qc.FilterByCategory(job.Result.Comments, category)
		detail.Categories = categories(job.Result)
	}
	if job.Status == qc.StatusCompleted {
		detail.Downloads = downloads(job)
	}
	if detail.History == nil {
		detail.History = []qc.Transition{}
	}
	respond.OK(c, detail)
}

func (h *Handler) transitions(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	id := c.Param("id")
	c.Set(middleware.JobIDKey, id)
	if _, known := rt.Tracker.Job(id); !known {
		respond.Error(c, http.StatusNotFound, "not_found", "job not found", nil)
		return
	}
	history := rt.Tracker.Transitions(id)
	if history == nil {
		history = []qc.Transition{}
	}
	if n := len(history); n > 0 {
		last := history[n-1]
		c.Set(middleware.StatusTransitionKey, string(last.From)+"->"+string(last.To))
	}
	respond.OK(c, gin.H{"job_id": id, "transitions": history})
}

func (h *Handler) artifact(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	job, ok := h.loadJob(c, rt)
	if !ok {
		return
	}
	kind := c.Param("kind")
	d, err := artifacts.Fetch(c.Request.Context(), rt.HTTP, job, kind)
	if err != nil {
		switch {
		case errors.Is(err, artifacts.ErrUnknownKind):
			respond.Error(c, http.StatusBadRequest, "validation_error", "artifact kind must be pdf, edl or xml", nil)
		case errors.Is(err, artifacts.ErrUnavailable):
			respond.Error(c, http.StatusNotFound, "artifact_unavailable", err.Error(), nil)
		default:
			telemetry.Warn("artifacts.fetch_failed", map[string]any{"session_id": rt.SessionID, "job_id": job.ID, "kind": kind, "error": err.Error()})
			respond.Error(c, http.StatusBadGateway, "upstream_unavailable", "failed to download artifact", nil)
		}
		return
	}

	if kind == artifacts.KindPDF && c.Query("preview") == "text" {
		text, err := artifacts.PDFText(d.Data)
		if err != nil {
			respond.Error(c, http.StatusUnprocessableEntity, "preview_unavailable", "could not read the report text", nil)
			return
		}
		respond.OK(c, gin.H{"job_id": job.ID, "text": text})
		return
	}
	c.Header("Content-Disposition", artifacts.Disposition(d.FileName))
	c.Data(http.StatusOK, d.ContentType, d.Data)
}

func (h *Handler) export(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	job, ok := h.loadJob(c, rt)
	if !ok {
		return
	}
	format := strings.ToLower(c.Param("format"))
	var buf bytes.Buffer
	if err := artifacts.Export(&buf, job, format, c.Query("category")); err != nil {
		switch {
		case errors.Is(err, artifacts.ErrUnknownKind):
			respond.Error(c, http.StatusBadRequest, "validation_error", "export format must be csv or edl", nil)
		case errors.Is(err, artifacts.ErrNoResult):
			respond.Error(c, http.StatusConflict, "not_ready", "the report is not ready yet", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to build export", nil)
		}
		return
	}
	c.Header("Content-Disposition", artifacts.Disposition(artifacts.ExportFileName(job, format)))
	c.Data(http.StatusOK, artifacts.ContentType(format), buf.Bytes())
}

// loadJob returns the tracked job, refetching it unless it is settled.
// Refetches are throttled per session and job; a throttled request is served
// from the last-known state when there is one.
func (h *Handler) loadJob(c *gin.Context, rt *sessions.Runtime) (qc.Job, bool) {
	id := strings.TrimSpace(c.Param("id"))
	c.Set(middleware.JobIDKey, id)
	cached, known := rt.Tracker.Job(id)
	if known && settledJob(cached) {
		return cached, true
	}
	if !h.refetch.Allow(rt.SessionID, id) {
		if known {
			return cached, true
		}
		retry := h.refetch.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(retry))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down", gin.H{"retry_after_ms": retry * 1000})
		return qc.Job{}, false
	}
	job, err := rt.Tracker.Refresh(c.Request.Context(), id)
	if err != nil {
		if known && !errors.Is(err, context.Canceled) {
			telemetry.Warn("jobs.refetch_failed", map[string]any{"session_id": rt.SessionID, "job_id": id, "error": err.Error()})
			return cached, true
		}
		storeError(c, err, "job")
		return qc.Job{}, false
	}
	return job, true
}

func (h *Handler) sweepIfStale(c *gin.Context, rt *sessions.Runtime) {
	if h.opts.StaleAfter <= 0 {
		return
	}
	if err := rt.Tracker.SweepIfStale(c.Request.Context(), h.opts.StaleAfter); err != nil {
		telemetry.Warn("jobs.sweep_failed", map[string]any{"session_id": rt.SessionID, "error": err.Error()})
	}
}

func categories(r *qc.QCResult) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range r.Comments {
		if _, ok := seen[c.Category]; ok || c.Category == "" {
			continue
		}
		seen[c.Category] = struct{}{}
		out = append(out, c.Category)
	}
	sort.Strings(out)
	return out
}

func downloads(job qc.Job) map[string]string {
	base := "/api/v1/jobs/" + job.ID
	out := map[string]string{
		"csv": base + "/export/csv",
		"edl": base + "/export/edl",
	}
	for _, kind := range []string{artifacts.KindPDF, artifacts.KindEDL, artifacts.KindXML} {
		if job.Artifacts.URL(kind) != "" {
			out[kind+"_report"] = base + "/artifacts/" + kind
		}
	}
	return out
}

// settledJob reports whether a cached job is final: failed jobs never gain
// a result, completed ones are final once theirs is loaded.
func settledJob(j qc.Job) bool {
	return j.Status == qc.StatusFailed || (j.Status == qc.StatusCompleted && j.Result != nil)
}
