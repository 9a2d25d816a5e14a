package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/logan676/mindscribe/internal/blob"
	"github.com/logan676/mindscribe/internal/clinical"
	"github.com/logan676/mindscribe/internal/common"
	"github.com/logan676/mindscribe/internal/config"
	"github.com/logan676/mindscribe/internal/httpapi/middleware"
	"github.com/logan676/mindscribe/internal/notegen"
	"github.com/logan676/mindscribe/internal/pipeline"
)

type Handler struct {
	Cfg      config.Config
	Svc      *clinical.Service
	Pipeline *pipeline.Orchestrator
	Log      zerolog.Logger
}

func NewHandler(cfg config.Config, svc *clinical.Service, p *pipeline.Orchestrator, log zerolog.Logger) *Handler {
	return &Handler{Cfg: cfg, Svc: svc, Pipeline: p, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func clinicianID(c *gin.Context) (string, bool) {
	id, ok := middleware.ClinicianID(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return id, ok
}

// pathID reads a ULID path parameter, answering 400 when it is malformed.
func pathID(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if !common.IsULID(id) {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid "+name)
		return "", false
	}
	return id, true
}

// fail maps domain errors onto HTTP statuses and envelope codes.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, blob.ErrTooLarge):
		common.Fail(c, http.StatusRequestEntityTooLarge, 41301, err.Error())
	case errors.Is(err, clinical.ErrValidation):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
	case errors.Is(err, clinical.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "not found")
	case errors.Is(err, clinical.ErrIllegalTransition):
		common.Fail(c, http.StatusConflict, 40901, err.Error())
	case errors.Is(err, clinical.ErrStateConflict):
		common.Fail(c, http.StatusConflict, 40902, err.Error())
	case errors.Is(err, clinical.ErrNoteLocked):
		common.Fail(c, http.StatusConflict, 40903, err.Error())
	case errors.Is(err, pipeline.ErrGenerationInProgress):
		common.Fail(c, http.StatusConflict, 40904, err.Error())
	case errors.Is(err, pipeline.ErrTranscriptNotReady):
		common.Fail(c, http.StatusConflict, 40905, err.Error())
	case errors.Is(err, notegen.ErrEmptyTranscript), errors.Is(err, pipeline.ErrNoTranscript):
		common.Fail(c, http.StatusUnprocessableEntity, 42201, "session has no transcript")
	case errors.Is(err, notegen.ErrGenerationFailed):
		h.Log.Warn().Err(err).Str("op", op).Str("request_id", c.GetString(middleware.RequestIDKey)).Msg("note generation failed")
		common.Fail(c, http.StatusBadGateway, 50201, err.Error())
	case errors.Is(err, pipeline.ErrQueueUnavailable), errors.Is(err, pipeline.ErrQueueFull):
		h.Log.Error().Err(err).Str("op", op).Str("request_id", c.GetString(middleware.RequestIDKey)).Msg("enqueue failed")
		common.Fail(c, http.StatusServiceUnavailable, 50301, "enqueue failed")
	default:
		h.Log.Error().Err(err).Str("op", op).Str("request_id", c.GetString(middleware.RequestIDKey)).Msg("request failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
