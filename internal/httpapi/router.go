package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/logan676/mindscribe/internal/clinical"
	"github.com/logan676/mindscribe/internal/common"
	"github.com/logan676/mindscribe/internal/config"
	"github.com/logan676/mindscribe/internal/httpapi/handlers"
	"github.com/logan676/mindscribe/internal/httpapi/middleware"
	"github.com/logan676/mindscribe/internal/pipeline"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("ulid", func(fl validator.FieldLevel) bool {
			return common.IsULID(fl.Field().String())
		})
	}
}

func NewRouter(cfg config.Config, log zerolog.Logger, svc *clinical.Service, p *pipeline.Orchestrator) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.MaxMultipartMemory = 32 << 20
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowedOrigin,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Idempotency-Key", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(cfg, svc, p, log)

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middleware.AuthRequired(cfg.JWTSecret, cfg.DevClinicianID))

	api.POST("/patients", h.CreatePatient)
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)

	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions", h.ListSessions)
	api.GET("/sessions/:id", h.GetSession)
	api.POST("/sessions/:id/start", h.StartSession)
	api.POST("/sessions/:id/cancel", h.CancelSession)
	api.POST("/sessions/:id/recording", h.UploadRecording)
	api.GET("/sessions/:id/audit", h.ListAudit)

	api.GET("/transcriptions/:sessionId/segments", h.ListSegments)
	api.GET("/transcriptions/:sessionId/status", h.TranscriptionStatus)

	api.GET("/jobs/:id", h.GetJob)

	api.POST("/notes/generate", h.GenerateNote)
	api.GET("/notes", h.ListNotes)
	api.POST("/notes", h.CreateNote)
	api.GET("/notes/:id", h.GetNote)
	api.PUT("/notes/:id", h.UpdateNote)
	api.POST("/notes/:id/finalize", h.FinalizeNote)
	api.POST("/notes/:id/sign", h.SignNote)
	return r
}
