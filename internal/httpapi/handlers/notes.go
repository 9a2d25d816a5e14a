package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/logan676/mindscribe/internal/clinical"
	"github.com/logan676/mindscribe/internal/common"
)

type generateNoteReq struct {
	SessionID string `json:"sessionId" binding:"required,ulid"`
	Type      string `json:"type" binding:"omitempty,oneof=soap dare"`
}

func (h *Handler) GenerateNote(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	var req generateNoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json: "+err.Error())
		return
	}
	t := clinical.NoteType(req.Type)
	if t == "" {
		t = clinical.NoteSOAP
	}
	n, err := h.Pipeline.GenerateNote(c.Request.Context(), uid, req.SessionID, t)
	if err != nil {
		h.fail(c, "generate note", err)
		return
	}
	common.Respond(c, http.StatusCreated, gin.H{"note": n})
}

type createNoteReq struct {
	SessionID string `json:"sessionId" binding:"required,ulid"`
	Type      string `json:"type" binding:"required,oneof=soap dare"`
	clinical.NoteFields
}

func (h *Handler) CreateNote(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	var req createNoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json: "+err.Error())
		return
	}
	n, err := h.Svc.CreateNote(c.Request.Context(), uid, clinical.NoteInput{
		SessionID: req.SessionID,
		Type:      clinical.NoteType(req.Type),
		Fields:    req.NoteFields,
	})
	if err != nil {
		h.fail(c, "create note", err)
		return
	}
	common.Respond(c, http.StatusCreated, gin.H{"note": n})
}

func (h *Handler) ListNotes(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	sessionID := strings.TrimSpace(c.Query("sessionId"))
	if !common.IsULID(sessionID) {
		common.Fail(c, http.StatusBadRequest, 10004, "sessionId required")
		return
	}
	notes, err := h.Svc.ListNotes(c.Request.Context(), uid, sessionID)
	if err != nil {
		h.fail(c, "list notes", err)
		return
	}
	common.OK(c, gin.H{"notes": notes})
}

func (h *Handler) GetNote(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	n, err := h.Svc.GetNote(c.Request.Context(), uid, id)
	if err != nil {
		h.fail(c, "get note", err)
		return
	}
	common.OK(c, gin.H{"note": n})
}

func (h *Handler) UpdateNote(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var fields clinical.NoteFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json: "+err.Error())
		return
	}
	n, err := h.Svc.UpdateNote(c.Request.Context(), uid, id, fields)
	if err != nil {
		h.fail(c, "update note", err)
		return
	}
	common.OK(c, gin.H{"note": n})
}

func (h *Handler) FinalizeNote(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	n, err := h.Svc.FinalizeNote(c.Request.Context(), uid, id)
	if err != nil {
		h.fail(c, "finalize note", err)
		return
	}
	common.OK(c, gin.H{"note": n})
}

func (h *Handler) SignNote(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	n, err := h.Svc.SignNote(c.Request.Context(), uid, id)
	if err != nil {
		h.fail(c, "sign note", err)
		return
	}
	common.OK(c, gin.H{"note": n})
}
