package dashboard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"qc-dashboard/internal/qc"
	"qc-dashboard/internal/shared/server/respond"
	"qc-dashboard/internal/shared/telemetry"
)

type onboardRequest struct {
	PlanType string `json:"plan_type" binding:"required,oneof=freelancer agency"`
}

type profileResponse struct {
	Profile   qc.Profile `json:"profile"`
	FetchedAt time.Time  `json:"fetched_at"`
}

// profile serves the cached profile, fetching it on first use or when
// ?refresh is set.
func (h *Handler) profile(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	if c.Query("refresh") == "" {
		if p, at, ok := rt.Profile.Get(); ok {
			respond.OK(c, profileResponse{Profile: p, FetchedAt: at})
			return
		}
	}
	p, err := rt.Profile.Refresh(c.Request.Context())
	if err != nil {
		storeError(c, err, "profile")
		return
	}
	_, at, _ := rt.Profile.Get()
	respond.OK(c, profileResponse{Profile: p, FetchedAt: at})
}

func (h *Handler) onboard(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	var req onboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "plan_type must be freelancer or agency", nil)
		return
	}
	p, onboarded, err := rt.Profile.EnsureOnboarded(c.Request.Context(), req.PlanType)
	if err != nil {
		storeError(c, err, "profile")
		return
	}
	if err := h.Sessions.ClearPendingPlan(c.Request.Context(), rt.SessionID); err != nil {
		telemetry.Warn("profile.clear_plan_failed", map[string]any{"session_id": rt.SessionID, "error": err.Error()})
	}
	respond.OK(c, gin.H{"profile": p, "onboarded": onboarded})
}
