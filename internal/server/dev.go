package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RegisterDevRoutes adds development-only archival endpoints.
func (s *Server) RegisterDevRoutes() {
	if s.cfg.Environment == "production" {
		return
	}

	dev := s.engine.Group("/dev")

	dev.POST("/archive/run", s.DevRunArchive)
	dev.POST("/scheduler/run-once", s.DevRunSchedulerOnce)
}

type devRunArchiveRequest struct {
	Date string `json:"date"`
}

// DevRunArchive runs the full pipeline for one date synchronously.
func (s *Server) DevRunArchive(c *gin.Context) {
	var req devRunArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.archiveSvc.ArchiveDate(c.Request.Context(), strings.TrimSpace(req.Date))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) DevRunSchedulerOnce(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if err := s.scheduler.RunOnce(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "scheduler run completed"})
}
