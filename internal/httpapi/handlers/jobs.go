package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/logan676/mindscribe/internal/clinical"
	"github.com/logan676/mindscribe/internal/common"
)

func (h *Handler) GetJob(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	j, err := h.Svc.Repo().GetJobByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get job", err)
		return
	}
	if j.OwnerID != uid {
		// hide existence
		h.fail(c, "get job", clinical.ErrNotFound)
		return
	}
	common.OK(c, gin.H{"job": j})
}
