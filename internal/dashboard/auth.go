package dashboard

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"qc-dashboard/internal/credentials"
	"qc-dashboard/internal/qc"
	"qc-dashboard/internal/shared/auth"
	"qc-dashboard/internal/shared/server/middleware"
	"qc-dashboard/internal/shared/server/respond"
	"qc-dashboard/internal/shared/telemetry"
)

const (
	planCookie     = "qc_pending_plan"
	pendingCookie  = "qc_pending_auth"
	authCookiePath = "/api/v1/auth"
	googleStartURL = "/api/v1/auth/google/start"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	PlanType string `json:"plan_type" binding:"omitempty,oneof=freelancer agency"`
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	PlanType string `json:"plan_type" binding:"omitempty,oneof=freelancer agency"`
}

type sessionResponse struct {
	Token          string      `json:"token"`
	TokenType      string      `json:"token_type"`
	UserID         string      `json:"user_id"`
	Email          string      `json:"email,omitempty"`
	Profile        *qc.Profile `json:"profile,omitempty"`
	Onboarded      bool        `json:"onboarded"`
	OnboardingNote string      `json:"onboarding_error,omitempty"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "email and password are required", nil)
		return
	}
	cred, err := h.Auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		authError(c, err)
		return
	}
	h.establish(c, cred, req.PlanType)
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "a valid email and a password of at least 6 characters are required", nil)
		return
	}
	plan := qc.NormalizePlan(req.PlanType)
	cred, err := h.Auth.SignUp(c.Request.Context(), req.Email, req.Password, plan)
	if errors.Is(err, credentials.ErrConfirmationRequired) {
		respond.Accepted(c, gin.H{
			"confirmation_required": true,
			"message":               "check your email to confirm your account, then sign in",
			"plan_type":             plan,
		})
		return
	}
	if err != nil {
		authError(c, err)
		return
	}
	h.establish(c, cred, plan)
}

func (h *Handler) logout(c *gin.Context) {
	sid := middleware.SessionIDFromContext(c)
	if sid == "" {
		middleware.LoginRequired(c, "sign in to continue")
		return
	}
	if s, err := h.Sessions.Get(c.Request.Context(), sid); err == nil && s.AccessToken != "" {
		if err := h.Auth.SignOut(c.Request.Context(), s.AccessToken); err != nil {
			telemetry.Warn("auth.sign_out_failed", map[string]any{"session_id": sid, "error": err.Error()})
		}
	}
	if err := h.Sessions.Close(c.Request.Context(), sid); err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to end session", nil)
		return
	}
	respond.NoContent(c)
}

func (h *Handler) googleStart(c *gin.Context) {
	target, pending, err := h.Auth.AuthorizeURL(credentials.ProviderGoogle)
	if err != nil {
		authError(c, err)
		return
	}
	secure := secureRequest(c)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(pendingCookie, pending.Encode(), int(credentials.StateTTL.Seconds()), authCookiePath, "", secure, true)
	if plan := strings.TrimSpace(c.Query("plan_type")); plan != "" {
		c.SetCookie(planCookie, qc.NormalizePlan(plan), int((10 * time.Minute).Seconds()), authCookiePath, "", secure, true)
	}
	if c.Query("mode") == "json" {
		respond.OK(c, gin.H{"url": target})
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (h *Handler) googleCallback(c *gin.Context) {
	if msg := c.Query("error_description"); msg != "" || c.Query("error") != "" {
		if msg == "" {
			msg = c.Query("error")
		}
		respond.Error(c, http.StatusUnauthorized, "auth_failed", msg, gin.H{"retry": googleStartURL})
		return
	}

	raw, _ := c.Cookie(pendingCookie)
	c.SetCookie(pendingCookie, "", -1, authCookiePath, "", secureRequest(c), true)
	pending, err := credentials.DecodePending(raw)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "invalid_state", "sign-in link expired, please try again", gin.H{"retry": googleStartURL})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.AuthTimeout)
	defer cancel()
	cred, err := h.Auth.ExchangeCode(ctx, pending, c.Query("state"), c.Query("code"))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			telemetry.Warn("auth.callback_timeout", map[string]any{"timeout_ms": h.opts.AuthTimeout.Milliseconds()})
			respond.Error(c, http.StatusGatewayTimeout, "auth_timeout", "signing in took too long, please try again", gin.H{"retry": googleStartURL})
			return
		}
		if errors.Is(err, credentials.ErrInvalidState) {
			respond.Error(c, http.StatusBadRequest, "invalid_state", "sign-in link expired, please try again", gin.H{"retry": googleStartURL})
			return
		}
		authError(c, err)
		return
	}

	plan, _ := c.Cookie(planCookie)
	c.SetCookie(planCookie, "", -1, authCookiePath, "", secureRequest(c), true)
	resp, ok := h.openSession(c, cred, plan)
	if !ok {
		return
	}
	target, err := url.Parse(h.opts.UIRedirectURL)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "invalid redirect url", nil)
		return
	}
	fragment := url.Values{}
	fragment.Set("token", resp.Token)
	if !resp.Onboarded && resp.Profile == nil {
		fragment.Set("onboarding", "required")
	}
	target.Fragment = fragment.Encode()
	c.Redirect(http.StatusFound, target.String())
}

func secureRequest(c *gin.Context) bool {
	return c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https")
}

// establish opens a session for cred and answers with its token.
func (h *Handler) establish(c *gin.Context, cred credentials.Credential, plan string) {
	resp, ok := h.openSession(c, cred, plan)
	if !ok {
		return
	}
	respond.OK(c, resp)
}

// openSession stores the session, signs its token and completes onboarding.
// An onboarding failure does not fail sign-in; the client retries it through
// POST /onboard.
func (h *Handler) openSession(c *gin.Context, cred credentials.Credential, plan string) (sessionResponse, bool) {
	ctx := c.Request.Context()
	s, err := h.Sessions.Open(ctx, cred, plan)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to open session", nil)
		return sessionResponse{}, false
	}
	token, err := h.Signer.Sign(auth.Claims{Sub: s.UserID, SessionID: s.ID, Email: s.Email})
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to issue session token", nil)
		return sessionResponse{}, false
	}
	resp := sessionResponse{Token: token, TokenType: "Bearer", UserID: s.UserID, Email: s.Email}

	rt, err := h.Sessions.Runtime(ctx, s.ID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start session", nil)
		return sessionResponse{}, false
	}
	prof, onboarded, err := rt.Profile.EnsureOnboarded(ctx, s.PendingPlan)
	if err != nil {
		telemetry.Warn("auth.onboarding_failed", map[string]any{"session_id": s.ID, "error": err.Error()})
		resp.OnboardingNote = "could not complete account setup, please choose a plan"
		return resp, true
	}
	if err := h.Sessions.ClearPendingPlan(ctx, s.ID); err != nil {
		telemetry.Warn("auth.clear_plan_failed", map[string]any{"session_id": s.ID, "error": err.Error()})
	}
	resp.Profile = &prof
	resp.Onboarded = onboarded
	return resp, true
}

func authError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, credentials.ErrInvalidCredentials):
		respond.Error(c, http.StatusUnauthorized, "invalid_credentials", "invalid email or password", nil)
	case errors.Is(err, credentials.ErrNotConfigured):
		respond.Error(c, http.StatusServiceUnavailable, "auth_unavailable", "sign-in is not configured", nil)
	case errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusGatewayTimeout, "auth_timeout", "sign-in timed out, please try again", nil)
	default:
		respond.Error(c, http.StatusBadGateway, "auth_failed", err.Error(), nil)
	}
}
