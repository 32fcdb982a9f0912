package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"qc-dashboard/internal/shared/auth"
	"qc-dashboard/internal/shared/telemetry"
)

func TestLoggingIncludesRequiredFields(t *testing.T) {
	router, signer := newTestRouter(t)
	router.Use(RequestID(), Logging())
	router.GET("/api/v1/jobs/:id", func(c *gin.Context) {
		c.Set(JobIDKey, "job-1")
		c.Set(StatusTransitionKey, "pending->processing")
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	var buf bytes.Buffer
	telemetry.SetOutput(&buf)
	defer telemetry.SetOutput(os.Stdout)

	token, _ := signer.Sign(auth.Claims{Sub: "user-1", SessionID: "sess-1"})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 0 || lines[0] == "" {
		t.Fatalf("expected log output")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}

	required := []string{"request_id", "user_id", "session_id", "job_id", "duration_ms", "status", "status_transition", "msg", "ts"}
	for _, key := range required {
		if _, ok := payload[key]; !ok {
			t.Fatalf("missing log field: %s", key)
		}
	}
	if payload["session_id"] != "sess-1" {
		t.Fatalf("unexpected session_id: %v", payload["session_id"])
	}
	if payload["job_id"] != "job-1" {
		t.Fatalf("unexpected job_id: %v", payload["job_id"])
	}
	if payload["status_transition"] != "pending->processing" {
		t.Fatalf("unexpected status_transition: %v", payload["status_transition"])
	}
}
