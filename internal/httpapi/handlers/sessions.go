package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/logan676/mindscribe/internal/clinical"
	"github.com/logan676/mindscribe/internal/common"
	"github.com/logan676/mindscribe/internal/pipeline"
)

type createSessionReq struct {
	PatientID     string     `json:"patientId" binding:"required,ulid"`
	ScheduledDate *time.Time `json:"scheduledDate"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json: "+err.Error())
		return
	}
	sess, err := h.Svc.CreateSession(c.Request.Context(), uid, req.PatientID, req.ScheduledDate)
	if err != nil {
		h.fail(c, "create session", err)
		return
	}
	common.Respond(c, http.StatusCreated, gin.H{"session": sess})
}

func (h *Handler) ListSessions(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	f := clinical.SessionFilter{
		PatientID: strings.TrimSpace(c.Query("patientId")),
		Status:    clinical.Status(strings.TrimSpace(c.Query("status"))),
	}
	if f.PatientID != "" && !common.IsULID(f.PatientID) {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid patientId")
		return
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			common.Fail(c, http.StatusBadRequest, 10004, "invalid limit")
			return
		}
		f.Limit = n
	}
	list, err := h.Svc.ListSessions(c.Request.Context(), uid, f)
	if err != nil {
		h.fail(c, "list sessions", err)
		return
	}
	common.OK(c, gin.H{"sessions": list})
}

func (h *Handler) GetSession(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sess, err := h.Svc.GetSession(c.Request.Context(), uid, id)
	if err != nil {
		h.fail(c, "get session", err)
		return
	}
	common.OK(c, gin.H{"session": sess})
}

func (h *Handler) StartSession(c *gin.Context) {
	h.lifecycle(c, "start session", h.Svc.StartSession)
}

func (h *Handler) CancelSession(c *gin.Context) {
	h.lifecycle(c, "cancel session", h.Svc.CancelSession)
}

func (h *Handler) lifecycle(c *gin.Context, op string, fn func(ctx context.Context, clinicianID, id string) (*clinical.Session, error)) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sess, err := fn(c.Request.Context(), uid, id)
	if err != nil {
		h.fail(c, op, err)
		return
	}
	common.OK(c, gin.H{"session": sess})
}

func (h *Handler) ListAudit(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	events, err := h.Svc.ListAudit(c.Request.Context(), uid, id)
	if err != nil {
		h.fail(c, "list audit", err)
		return
	}
	common.OK(c, gin.H{"events": events})
}

// UploadRecording accepts multipart field "audio" and answers 202 with the
// queued job; transcription continues in the background.
func (h *Handler) UploadRecording(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	// Leave headroom for multipart framing.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Cfg.MaxRecordingBytes+1<<20)
	fh, err := c.FormFile("audio")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "recording exceeds size limit")
			return
		}
		common.Fail(c, http.StatusBadRequest, 10002, "multipart field audio required")
		return
	}
	if fh.Size > h.Cfg.MaxRecordingBytes {
		common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "recording exceeds size limit")
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, "open upload", err)
		return
	}
	defer f.Close()

	job, err := h.Pipeline.AcceptRecording(c.Request.Context(), uid, id, pipeline.Recording{
		ContentType: fh.Header.Get("Content-Type"),
		Body:        f,
	}, idempoKey)
	if err != nil {
		h.fail(c, "upload recording", err)
		return
	}
	common.Respond(c, http.StatusAccepted, gin.H{"job": job})
}
