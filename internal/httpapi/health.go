package httpapi

import (
	"github.com/gin-gonic/gin"
)

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// GET /healthz
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	RespondOK(c, gin.H{"status": "ok"})
}
