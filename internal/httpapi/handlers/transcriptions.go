package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/logan676/mindscribe/internal/clinical"
	"github.com/logan676/mindscribe/internal/common"
)

func (h *Handler) ListSegments(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "sessionId")
	if !ok {
		return
	}
	segs, err := h.Svc.ListSegments(c.Request.Context(), uid, id)
	if err != nil {
		h.fail(c, "list segments", err)
		return
	}
	common.OK(c, gin.H{"segments": segs, "count": len(segs)})
}

// TranscriptionStatus reports pipeline progress. A completed session with
// speech and no note yet gets a draft started in the background.
func (h *Handler) TranscriptionStatus(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "sessionId")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sess, err := h.Svc.GetSession(ctx, uid, id)
	if err != nil {
		h.fail(c, "transcription status", err)
		return
	}

	resp := gin.H{
		"session_id":           sess.ID,
		"status":               sess.Status,
		"transcription_status": sess.TranscriptionStatus,
		"error":                sess.TranscriptionError,
	}
	if sess.TranscriptionStatus == clinical.TranscriptionCompleted {
		segs, err := h.Svc.ListSegments(ctx, uid, id)
		if err != nil {
			h.fail(c, "transcription status", err)
			return
		}
		resp["segment_count"] = len(segs)

		note, err := h.Svc.Repo().GetNoteByAutoKey(ctx, clinical.AutoNoteKey(id, clinical.NoteSOAP))
		switch {
		case err == nil:
			resp["auto_note_id"] = note.ID
		case errors.Is(err, clinical.ErrNotFound):
			// only sessions with speech and no note of any origin get a draft
			n, err := h.Svc.Repo().CountNotes(ctx, id)
			if err != nil {
				h.fail(c, "transcription status", err)
				return
			}
			resp["note_count"] = n
			if n == 0 && len(segs) > 0 {
				h.Pipeline.KickAutoNote(id)
				resp["auto_note_pending"] = true
			}
		default:
			h.fail(c, "transcription status", err)
			return
		}
	}
	common.OK(c, resp)
}
