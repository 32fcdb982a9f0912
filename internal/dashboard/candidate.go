package dashboard

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"qc-dashboard/internal/lifecycle"
	"qc-dashboard/internal/qc"
	"qc-dashboard/internal/shared/server/middleware"
	"qc-dashboard/internal/shared/server/respond"
	"qc-dashboard/internal/shared/telemetry"
	"qc-dashboard/internal/shared/util"
)

// multipart framing allowance on top of the file size limit.
const formOverhead = 1 << 20

type submitRequest struct {
	Mode string `json:"qc_mode" binding:"required"`
}

type estimateResponse struct {
	Mode             qc.Mode `json:"qc_mode"`
	ModeLabel        string  `json:"mode_label"`
	Multiplier       int     `json:"multiplier"`
	DurationSec      int     `json:"duration_sec"`
	Credits          int     `json:"credits"`
	CreditsAvailable *int    `json:"credits_available,omitempty"`
	Sufficient       *bool   `json:"sufficient,omitempty"`
}

func (h *Handler) uploadCandidate(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes+formOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "video exceeds the 1 GB limit", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	if fileHeader.Size > h.opts.MaxUploadBytes {
		respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "video exceeds the 1 GB limit", nil)
		return
	}
	name, err := util.SanitizeFileName(filepath.Base(fileHeader.Filename))
	if err == nil {
		err = util.CheckVideoName(name)
	}
	if err != nil {
		failure := &lifecycle.Failure{Kind: lifecycle.KindValidation, Message: "Unsupported file. Use MP4, MOV, MKV or WebM.", Action: lifecycle.ActionChooseAnotherFile}
		respond.Error(c, http.StatusUnprocessableEntity, "unsupported_file", failure.Message, failure)
		return
	}

	path, err := h.spool(fileHeader, name)
	if err != nil {
		telemetry.Error("candidate.spool_failed", map[string]any{"session_id": rt.SessionID, "error": err.Error()})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to store upload", nil)
		return
	}
	err = rt.Controller.Select(lifecycle.File{
		Name:    name,
		Path:    path,
		Release: func() { _ = os.Remove(path) },
	})
	if err != nil {
		controllerError(c, err)
		return
	}

	snap := rt.Controller.Snapshot()
	if wantWait(c) {
		snap, _ = rt.Controller.AwaitSettled(c.Request.Context())
	}
	respond.Accepted(c, snap)
}

// spool copies the upload to a private temp file and returns its path.
func (h *Handler) spool(fh *multipart.FileHeader, name string) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dir := h.opts.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	dst, err := os.CreateTemp(dir, "candidate-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func (h *Handler) candidate(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	snap := rt.Controller.Snapshot()
	if wantWait(c) {
		snap, _ = rt.Controller.AwaitSettled(c.Request.Context())
	}
	respond.OK(c, snap)
}

func (h *Handler) removeCandidate(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	if err := rt.Controller.Remove(); err != nil {
		controllerError(c, err)
		return
	}
	respond.OK(c, rt.Controller.Snapshot())
}

func (h *Handler) estimate(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	mode, err := qc.ParseMode(c.Query("qc_mode"))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "qc_mode must be polisher or guardian", nil)
		return
	}
	credits, err := rt.Controller.Estimate(mode)
	if err != nil {
		controllerError(c, err)
		return
	}
	resp := estimateResponse{
		Mode:       mode,
		ModeLabel:  mode.Label(),
		Multiplier: mode.Multiplier(),
		Credits:    credits,
	}
	if snap := rt.Controller.Snapshot(); snap.Candidate != nil {
		resp.DurationSec = snap.Candidate.DurationSec
	}
	if prof, _, ok := rt.Profile.Get(); ok {
		available := prof.Credits
		sufficient := available >= credits
		resp.CreditsAvailable = &available
		resp.Sufficient = &sufficient
	}
	respond.OK(c, resp)
}

func (h *Handler) submit(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "qc_mode is required", nil)
		return
	}
	mode, err := qc.ParseMode(req.Mode)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "qc_mode must be polisher or guardian", nil)
		return
	}

	job, err := rt.Controller.Submit(c.Request.Context(), mode)
	if err != nil {
		controllerError(c, err)
		return
	}
	c.Set(middleware.JobIDKey, job.ID)
	respond.Created(c, toJobView(job, h.opts.Now()))
}

func wantWait(c *gin.Context) bool {
	switch strings.ToLower(c.Query("wait")) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// controllerError answers a lifecycle error with its classified failure.
func controllerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotReady):
		respond.Error(c, http.StatusConflict, "not_ready", err.Error(), nil)
		return
	case errors.Is(err, lifecycle.ErrBusy):
		respond.Error(c, http.StatusConflict, "busy", err.Error(), nil)
		return
	case errors.Is(err, lifecycle.ErrClosed):
		middleware.LoginRequired(c, "session ended, sign in again")
		return
	case errors.Is(err, qc.ErrInvalidMode):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	failure := lifecycle.Classify(err)
	switch failure.Kind {
	case lifecycle.KindAuthentication:
		respond.Error(c, http.StatusUnauthorized, "login_required", failure.Message, gin.H{"redirect": middleware.LoginPath, "failure": failure})
	case lifecycle.KindValidation, lifecycle.KindMetadata:
		respond.Error(c, http.StatusUnprocessableEntity, failure.Kind+"_error", failure.Message, failure)
	default:
		respond.Error(c, http.StatusBadGateway, "transport_error", failure.Message, failure)
	}
}
