package httpapi

import (
	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	AuthMiddleware  *AuthMiddleware
	JobHandler      *JobHandler
	DocumentHandler *DocumentHandler
	IntakeHandler   *IntakeHandler
	HealthHandler   *HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	protected := r.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.JobHandler != nil {
			protected.POST("/jobs", cfg.JobHandler.CreateJob)
			protected.POST("/jobs/:id/resume", cfg.JobHandler.ResumeJob)
			protected.GET("/jobs/:id/status", cfg.JobHandler.GetStatus)
			protected.GET("/jobs/:id/status/timeline", cfg.JobHandler.GetTimeline)
			protected.GET("/jobs/:id/artifacts/*path", cfg.JobHandler.DownloadArtifact)
		}

		if cfg.DocumentHandler != nil {
			protected.GET("/documents", cfg.DocumentHandler.ListDocuments)
		}

		if cfg.IntakeHandler != nil {
			protected.POST("/intake/questions", cfg.IntakeHandler.ProposeQuestions)
		}
	}

	return r
}
