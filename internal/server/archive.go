package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	archivedomain "github.com/packhouse/packline/internal/archive/domain"
)

type createWarmupRequest struct {
	Date      string `json:"date"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// CreateWarmup enqueues an on-demand archival; the scheduler drains the
// queue asynchronously. Params are validated here so a 202 means runnable.
func (s *Server) CreateWarmup(c *gin.Context) {
	var req createWarmupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	created, err := s.archiveSvc.EnqueueWarmup(c.Request.Context(), archivedomain.WarmupParams{
		Date:      strings.TrimSpace(req.Date),
		StartDate: strings.TrimSpace(req.StartDate),
		EndDate:   strings.TrimSpace(req.EndDate),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":     created.ID,
		"status": created.Status,
	})
}

func (s *Server) GetWarmup(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	resp, err := s.archiveSvc.GetWarmupRequest(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListWarmups(c *gin.Context) {
	var query struct {
		Status      string `form:"status"`
		CreatedFrom string `form:"created_from"`
		CreatedTo   string `form:"created_to"`
		PageToken   string `form:"page_token"`
		PageSize    string `form:"page_size"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	createdFrom, err := parseOptionalTime(query.CreatedFrom, false)
	if err != nil {
		AbortWithError(c, newValidationError("created_from", "invalid_created_from", "invalid created_from"))
		return
	}
	createdTo, err := parseOptionalTime(query.CreatedTo, true)
	if err != nil {
		AbortWithError(c, newValidationError("created_to", "invalid_created_to", "invalid created_to"))
		return
	}
	pageSize, err := parseOptionalInt(query.PageSize)
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	req := archivedomain.ListWarmupsRequest{
		Status:      strings.TrimSpace(query.Status),
		CreatedFrom: createdFrom,
		CreatedTo:   createdTo,
		PageToken:   strings.TrimSpace(query.PageToken),
	}
	if pageSize != nil {
		req.PageSize = *pageSize
	}

	resp, err := s.archiveSvc.ListWarmupRequests(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetArchivedDate reads the cached enriched records for one date. A miss is
// a plain 404: the read path never triggers archival.
func (s *Server) GetArchivedDate(c *gin.Context) {
	date := strings.TrimSpace(c.Param("date"))
	records, err := s.archiveSvc.GetArchivedDate(c.Request.Context(), date)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"date":    date,
		"records": records,
	}})
}
