package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/sentinel/internal/hub"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/pkg/dto"
)

type IngestHandler struct {
	svc *hub.Service
}

func NewIngestHandler(svc *hub.Service) *IngestHandler {
	return &IngestHandler{svc: svc}
}

// Ingest accepts one batch of events. The X-Idempotency-Key header makes a
// resubmitted batch replay its recorded outcomes.
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty batch"})
		return
	}

	token := c.GetHeader("X-Idempotency-Key")
	outcomes, err := h.svc.Ingest(c.Request.Context(), req.Events, token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.IngestResponse{Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case models.IngestAccepted:
			resp.Accepted++
		case models.IngestDuplicate:
			resp.Dupes++
		case models.IngestRejected:
			resp.Rejected++
		}
	}
	c.JSON(http.StatusOK, resp)
}

// AttachRecognition applies sweep results to stored events. Events whose
// decision was already resolved are skipped by the store guard.
func (h *IngestHandler) AttachRecognition(c *gin.Context) {
	var req dto.WithRecognitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var updated int64
	for _, u := range req.Updates {
		d := u.Decision
		ok, err := h.svc.AttachRecognition(c.Request.Context(), u.EventID, &d)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if ok {
			updated++
		}
	}
	c.JSON(http.StatusOK, dto.UpdatedCountResponse{UpdatedCount: updated})
}

// MarkEvaluated stamps a page of events as evaluated.
func (h *IngestHandler) MarkEvaluated(c *gin.Context) {
	var req dto.MarkEvaluatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := h.svc.MarkEvaluated(c.Request.Context(), req.EventIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.MarkEvaluatedResponse{UpdatedCount: n})
}
