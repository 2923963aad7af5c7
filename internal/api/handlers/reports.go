package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/api/ws"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/pkg/dto"
)

type ReportHandler struct {
	db   *storage.PostgresStore
	feed *ws.Feed
}

func NewReportHandler(db *storage.PostgresStore, feed *ws.Feed) *ReportHandler {
	return &ReportHandler{db: db, feed: feed}
}

// Create files a run's reports atomically: all stored or none.
func (h *ReportHandler) Create(c *gin.Context) {
	var req dto.CreateReportsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for i := range req.Reports {
		if err := req.Reports[i].Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := h.db.CreateReports(c.Request.Context(), req.Reports); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if h.feed != nil {
		for _, r := range req.Reports {
			h.feed.BroadcastReport(r)
		}
	}
	c.JSON(http.StatusCreated, gin.H{"created": len(req.Reports)})
}

func (h *ReportHandler) List(c *gin.Context) {
	status := models.ReportStatus(c.Query("status"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	reports, err := h.db.ListReports(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// SetStatus moves a report through its review lifecycle. Findings are
// immutable; status is the only mutable field.
func (h *ReportHandler) SetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
		return
	}

	var req dto.ReportStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Status {
	case models.ReportOpen, models.ReportReviewed, models.ReportDismissed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	if err := h.db.UpdateReportStatus(c.Request.Context(), id, req.Status); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}
