// Package dashboard is the HTTP surface of the QC dashboard: sign-in,
// candidate upload and submission, job feeds and report downloads.
package dashboard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"qc-dashboard/internal/credentials"
	"qc-dashboard/internal/jobstore"
	"qc-dashboard/internal/sessions"
	"qc-dashboard/internal/shared/auth"
	"qc-dashboard/internal/shared/server/middleware"
	"qc-dashboard/internal/shared/server/respond"
)

// Authenticator is the credential provider used by the auth routes.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (credentials.Credential, error)
	SignUp(ctx context.Context, email, password, plan string) (credentials.Credential, error)
	SignOut(ctx context.Context, accessToken string) error
	AuthorizeURL(provider string) (string, credentials.Pending, error)
	ExchangeCode(ctx context.Context, pending credentials.Pending, state, code string) (credentials.Credential, error)
}

// SessionStore opens, resumes and closes dashboard sessions.
type SessionStore interface {
	Open(ctx context.Context, cred credentials.Credential, pendingPlan string) (sessions.Session, error)
	Get(ctx context.Context, id string) (sessions.Session, error)
	Runtime(ctx context.Context, id string) (*sessions.Runtime, error)
	ClearPendingPlan(ctx context.Context, id string) error
	Close(ctx context.Context, id string) error
}

// Options tune the HTTP surface.
type Options struct {
	UIRedirectURL  string
	AuthTimeout    time.Duration
	UploadDir      string
	MaxUploadBytes int64
	// StaleAfter, when positive, sweeps a session's jobs on read if the last
	// sweep is older. Used where no background polling runs.
	StaleAfter time.Duration
	// RefetchWindow throttles per-job refetches from the detail route.
	RefetchWindow time.Duration
	Now           func() time.Time
}

// Handler serves the dashboard routes.
type Handler struct {
	Auth     Authenticator
	Sessions SessionStore
	Signer   *auth.Signer
	opts     Options
	refetch  *pollLimiter
}

// NewHandler constructs a Handler.
func NewHandler(authn Authenticator, store SessionStore, signer *auth.Signer, opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 5 * time.Second
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 1 << 30
	}
	if opts.UIRedirectURL == "" {
		opts.UIRedirectURL = "/"
	}
	return &Handler{
		Auth:     authn,
		Sessions: store,
		Signer:   signer,
		opts:     opts,
		refetch:  newPollLimiter(opts.RefetchWindow, opts.Now),
	}
}

// RegisterRoutes attaches every dashboard route to rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	a.POST("/login", h.login)
	a.POST("/register", h.register)
	a.POST("/logout", h.logout)
	a.GET("/google/start", h.googleStart)
	a.GET("/google/callback", h.googleCallback)

	rg.GET("/profile", h.profile)
	rg.POST("/onboard", h.onboard)

	rg.POST("/candidate", h.uploadCandidate)
	rg.GET("/candidate", h.candidate)
	rg.DELETE("/candidate", h.removeCandidate)
	rg.GET("/candidate/estimate", h.estimate)
	rg.POST("/candidate/submit", h.submit)

	rg.GET("/jobs/active", h.activeJobs)
	rg.GET("/jobs/recent", h.recentJobs)
	rg.GET("/jobs/:id", h.job)
	rg.GET("/jobs/:id/transitions", h.transitions)
	rg.GET("/jobs/:id/artifacts/:kind", h.artifact)
	rg.GET("/jobs/:id/export/:format", h.export)
}

// PublicPath reports whether path is reachable without a session token.
func PublicPath(path string) bool {
	switch path {
	case "/metrics",
		"/api/v1/health",
		"/api/v1/auth/login",
		"/api/v1/auth/register",
		"/api/v1/auth/google/start",
		"/api/v1/auth/google/callback":
		return true
	default:
		return false
	}
}

// runtime resolves the caller's live session, answering 401 when it is gone.
func (h *Handler) runtime(c *gin.Context) (*sessions.Runtime, bool) {
	sid := middleware.SessionIDFromContext(c)
	if sid == "" {
		middleware.LoginRequired(c, "sign in to continue")
		return nil, false
	}
	rt, err := h.Sessions.Runtime(c.Request.Context(), sid)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			middleware.LoginRequired(c, "session ended, sign in again")
			return nil, false
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load session", nil)
		return nil, false
	}
	return rt, true
}

// storeError answers a job store failure.
func storeError(c *gin.Context, err error, what string) {
	var apiErr *jobstore.APIError
	switch {
	case jobstore.IsAuth(err):
		middleware.LoginRequired(c, "session expired, sign in again")
	case errors.Is(err, jobstore.ErrProfileNotFound):
		respond.Error(c, http.StatusNotFound, "profile_not_found", "complete onboarding to continue", gin.H{"onboard": "/api/v1/onboard"})
	case errors.Is(err, jobstore.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", what+" not found", nil)
	case errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusGatewayTimeout, "upstream_timeout", "job store timed out", nil)
	case errors.Is(err, jobstore.ErrTooLarge):
		respond.Error(c, http.StatusBadGateway, "upstream_too_large", "job store response too large", nil)
	case errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError:
		respond.Error(c, http.StatusBadGateway, "upstream_rejected", apiErr.Message, gin.H{"status": apiErr.Status})
	default:
		respond.Error(c, http.StatusBadGateway, "upstream_unavailable", "failed to reach job store", nil)
	}
}
