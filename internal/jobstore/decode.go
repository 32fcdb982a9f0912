package jobstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"qc-dashboard/internal/qc"
	"qc-dashboard/internal/shared/telemetry"
)

type wireJob struct {
	ID           string          `json:"id"`
	Status       qc.Status       `json:"status"`
	Mode         qc.Mode         `json:"qc_mode"`
	DurationSec  float64         `json:"duration_sec"`
	CreditsUsed  int             `json:"credits_used"`
	VideoURL     string          `json:"video_url"`
	ThumbnailURL string          `json:"thumbnail_url"`
	Progress     *float64        `json:"progress"`
	Result       json.RawMessage `json:"qc_result"`
	Artifacts    *qc.Artifacts   `json:"artifacts"`
	CreatedAt    string          `json:"created_at"`
	TeamID       string          `json:"team_id"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
}

// DecodeJob parses one job and normalizes its result payload.
func DecodeJob(body []byte) (qc.Job, error) {
	var w wireJob
	if err := json.Unmarshal(body, &w); err != nil {
		return qc.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return w.toJob(), nil
}

// DecodeJobs parses a job list and normalizes every result payload.
func DecodeJobs(body []byte) ([]qc.Job, error) {
	var ws []wireJob
	if err := json.Unmarshal(body, &ws); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	jobs := make([]qc.Job, 0, len(ws))
	for _, w := range ws {
		jobs = append(jobs, w.toJob())
	}
	return jobs, nil
}

func (w wireJob) toJob() qc.Job {
	job := qc.Job{
		ID:           w.ID,
		Status:       w.Status,
		Mode:         w.Mode,
		DurationSec:  int(w.DurationSec),
		CreditsUsed:  w.CreditsUsed,
		VideoURL:     w.VideoURL,
		ThumbnailURL: w.ThumbnailURL,
		Artifacts:    w.Artifacts,
		CreatedAt:    parseTime(w.CreatedAt),
		TeamID:       w.TeamID,
	}
	if w.Progress != nil {
		p := int(*w.Progress)
		job.Progress = &p
	}
	result, err := qc.Normalize(w.Result, job.DurationSec)
	if err != nil {
		telemetry.Warn("jobstore.result_unreadable", map[string]any{
			"job_id": w.ID,
			"error":  err.Error(),
		})
	}
	job.Result = result
	return job
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
