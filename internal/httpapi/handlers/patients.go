package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/logan676/mindscribe/internal/clinical"
	"github.com/logan676/mindscribe/internal/common"
)

type patientReq struct {
	FirstName   string     `json:"firstName" binding:"required,max=128"`
	LastName    string     `json:"lastName" binding:"required,max=128"`
	DateOfBirth *time.Time `json:"dateOfBirth"`
	Email       string     `json:"email" binding:"omitempty,email,max=255"`
	Phone       string     `json:"phone" binding:"omitempty,max=32"`
	Notes       string     `json:"notes"`
}

func (r patientReq) input() clinical.PatientInput {
	return clinical.PatientInput{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		DateOfBirth: r.DateOfBirth,
		Email:       r.Email,
		Phone:       r.Phone,
		Notes:       r.Notes,
	}
}

func (h *Handler) CreatePatient(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	var req patientReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json: "+err.Error())
		return
	}
	p, err := h.Svc.CreatePatient(c.Request.Context(), uid, req.input())
	if err != nil {
		h.fail(c, "create patient", err)
		return
	}
	common.Respond(c, http.StatusCreated, gin.H{"patient": p})
}

func (h *Handler) ListPatients(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	list, err := h.Svc.ListPatients(c.Request.Context(), uid)
	if err != nil {
		h.fail(c, "list patients", err)
		return
	}
	common.OK(c, gin.H{"patients": list})
}

func (h *Handler) GetPatient(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.Svc.GetPatient(c.Request.Context(), uid, id)
	if err != nil {
		h.fail(c, "get patient", err)
		return
	}
	common.OK(c, gin.H{"patient": p})
}

func (h *Handler) UpdatePatient(c *gin.Context) {
	uid, ok := clinicianID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req patientReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json: "+err.Error())
		return
	}
	p, err := h.Svc.UpdatePatient(c.Request.Context(), uid, id, req.input())
	if err != nil {
		h.fail(c, "update patient", err)
		return
	}
	common.OK(c, gin.H{"patient": p})
}
