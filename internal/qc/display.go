package qc

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// FormatDuration renders seconds as M:SS.
func FormatDuration(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}

// TimeAgo renders a coarse relative label for t as seen at now.
func TimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	case d < 30*24*time.Hour:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	default:
		return t.Format("Jan 2, 2006")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// SourceFileName derives a display file name from a source locator.
func SourceFileName(locator string) string {
	s := strings.TrimSpace(locator)
	if s == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(s, "mock://"); ok {
		return rest
	}
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Path != "" {
		s = u.Path
	}
	if base := path.Base(s); base != "." && base != "/" {
		return base
	}
	return s
}

// EstimateProgress is the display-only progress heuristic for a job the
// backend reports no progress for: elapsed time since creation over the
// assumed processing duration, clamped to [0,100]. Pending jobs report 0
// and terminal jobs 100.
func EstimateProgress(job Job, now time.Time, assumed time.Duration) int {
	if job.Progress != nil {
		return clampPercent(*job.Progress)
	}
	switch {
	case job.Status.IsTerminal():
		return 100
	case job.Status != StatusProcessing || assumed <= 0 || job.CreatedAt.IsZero():
		return 0
	}
	elapsed := now.Sub(job.CreatedAt)
	return clampPercent(int(elapsed * 100 / assumed))
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// CommentCount returns the number of comments in the job's result.
func CommentCount(job Job) int {
	if job.Result == nil {
		return 0
	}
	return len(job.Result.Comments)
}
