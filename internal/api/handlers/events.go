package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/pkg/dto"
)

type EventHandler struct {
	db     *storage.PostgresStore
	images *storage.ImageStore
}

func NewEventHandler(db *storage.PostgresStore, images *storage.ImageStore) *EventHandler {
	return &EventHandler{db: db, images: images}
}

func (h *EventHandler) List(c *gin.Context) {
	f := storage.EventFilter{
		SiteID: c.Query("site_id"),
		Type:   models.EventType(c.Query("type")),
	}
	if pidStr := c.Query("person_id"); pidStr != "" {
		if id, err := uuid.Parse(pidStr); err == nil {
			f.PersonID = &id
		}
	}
	if fromStr := c.Query("from"); fromStr != "" {
		if t, err := time.Parse(time.RFC3339, fromStr); err == nil {
			f.From = &t
		}
	}
	if toStr := c.Query("to"); toStr != "" {
		if t, err := time.Parse(time.RFC3339, toStr); err == nil {
			f.To = &t
		}
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, total, err := h.db.ListEvents(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": total})
}

func (h *EventHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	ev, err := h.db.GetEvent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ev == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	resp := gin.H{"event": ev}
	if ev.ImageRef != "" {
		if url, err := h.images.PresignedURL(c.Request.Context(), ev.ImageRef); err == nil {
			resp["image_url"] = url
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetImage redirects to a time-limited presigned link for the event's frame.
func (h *EventHandler) GetImage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	ev, err := h.db.GetEvent(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ev == nil || ev.ImageRef == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no image for event"})
		return
	}

	url, err := h.images.PresignedURL(c.Request.Context(), ev.ImageRef)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, url)
}

// LatestTimestamp reports the newest observed_at for a site and type; the
// collector derives its poll window from it.
func (h *EventHandler) LatestTimestamp(c *gin.Context) {
	siteID := c.Query("site_id")
	typ := models.EventType(c.Query("type"))
	if siteID == "" || typ == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "site_id and type are required"})
		return
	}

	ts, err := h.db.LatestObserved(c.Request.Context(), siteID, typ)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.LatestTimestampResponse{LatestTimestamp: ts})
}

// Unevaluated pages never-evaluated events by (observed_at, id).
func (h *EventHandler) Unevaluated(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))

	var afterTS *time.Time
	var afterID *uuid.UUID
	if tsStr := c.Query("after_ts"); tsStr != "" {
		t, err := time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after_ts"})
			return
		}
		afterTS = &t
	}
	if idStr := c.Query("after_id"); idStr != "" {
		id, err := uuid.Parse(idStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after_id"})
			return
		}
		afterID = &id
	}

	events, err := h.db.FetchUnevaluated(c.Request.Context(), limit, afterTS, afterID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.UnevaluatedResponse{Events: events}
	if len(events) == limit {
		last := events[len(events)-1]
		resp.NextAfterTS = &last.ObservedAt
		resp.NextAfterID = &last.ID
	}
	c.JSON(http.StatusOK, resp)
}

// ForRecognition lists appearance events whose face decision is missing or
// errored and that have a stored frame.
func (h *EventHandler) ForRecognition(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	events, err := h.db.EventsNeedingRecognition(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.UnevaluatedResponse{Events: events})
}

// ForMedia lists events without a stored frame, optionally narrowed by type.
func (h *EventHandler) ForMedia(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	events, err := h.db.EventsNeedingMedia(c.Request.Context(), models.EventType(c.Query("type")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.UnevaluatedResponse{Events: events})
}

// WithMedia attaches backfilled image references.
func (h *EventHandler) WithMedia(c *gin.Context) {
	var req dto.WithMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var updated int64
	for _, u := range req.Updates {
		ok, err := h.db.AttachImageRef(c.Request.Context(), u.EventID, u.ImageRef)
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
