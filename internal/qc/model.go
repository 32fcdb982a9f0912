package qc

import "time"

// Job represents one submitted video analysis request.
type Job struct {
	ID           string     `json:"id"`
	Status       Status     `json:"status"`
	Mode         Mode       `json:"qc_mode"`
	DurationSec  int        `json:"duration_sec"`
	CreditsUsed  int        `json:"credits_used"`
	VideoURL     string     `json:"video_url"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	Progress     *int       `json:"progress,omitempty"`
	Result       *QCResult  `json:"qc_result,omitempty"`
	Artifacts    *Artifacts `json:"artifacts,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	TeamID       string     `json:"team_id"`
}

// QCResult is the canonical analysis report of a completed job.
type QCResult struct {
	VideoInfo *VideoInfo `json:"video_info,omitempty"`
	Comments  []Comment  `json:"comments"`
	Summary   Summary    `json:"summary"`
}

// Comment is one timestamped issue.
type Comment struct {
	Timestamp    string   `json:"timestamp"`
	TimestampSec float64  `json:"timestamp_sec"`
	Category     string   `json:"category"`
	Description  string   `json:"description"`
	Suggestion   string   `json:"suggestion,omitempty"`
	Severity     Severity `json:"severity"`
}

// VideoInfo describes the analyzed media as reported by the backend.
type VideoInfo struct {
	Resolution string  `json:"resolution,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	Audio      *bool   `json:"audio,omitempty"`
}

// Summary counts issues overall and per category.
type Summary struct {
	TotalIssues int            `json:"total_issues"`
	ByCategory  map[string]int `json:"by_category"`
}

// Artifacts holds downloadable report locations for a completed job.
type Artifacts struct {
	PDFURL string `json:"pdf_url,omitempty"`
	EDLURL string `json:"edl_url,omitempty"`
	XMLURL string `json:"xml_url,omitempty"`
}

// URL returns the artifact location for kind ("pdf", "edl", "xml").
func (a *Artifacts) URL(kind string) string {
	if a == nil {
		return ""
	}
	switch kind {
	case "pdf":
		return a.PDFURL
	case "edl":
		return a.EDLURL
	case "xml":
		return a.XMLURL
	default:
		return ""
	}
}

// Severity grades a comment.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// CreateJobRequest is the body of a job creation call.
type CreateJobRequest struct {
	VideoURL     string `json:"video_url" validate:"required"`
	DurationSec  int    `json:"duration_sec" validate:"gte=1"`
	Mode         Mode   `json:"qc_mode" validate:"oneof=polisher guardian"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// Plan types accepted at onboarding.
const (
	PlanFreelancer = "freelancer"
	PlanAgency     = "agency"
)

// OnboardRequest is the body of an onboarding call.
type OnboardRequest struct {
	PlanType string `json:"plan_type" validate:"oneof=freelancer agency"`
}

// OnboardResponse reports the account created (or found) by onboarding.
type OnboardResponse struct {
	UserID    string `json:"user_id"`
	TeamID    string `json:"team_id"`
	PlanType  string `json:"plan_type"`
	Credits   int    `json:"credits"`
	IsNewUser bool   `json:"is_new_user"`
}

// Profile is the backend-owned account, plan and credit snapshot.
type Profile struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name"`
	PlanType string `json:"plan_type"`
	Credits  int    `json:"credits"`
}

// NormalizePlan returns a valid plan type, defaulting to freelancer.
func NormalizePlan(raw string) string {
	if raw == PlanAgency {
		return PlanAgency
	}
	return PlanFreelancer
}
