package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/models"
)

type IngestRequest struct {
	Events []models.Event `json:"events"`
}

type IngestResponse struct {
	Outcomes []models.IngestOutcome `json:"outcomes"`
	Accepted int                    `json:"accepted"`
	Dupes    int                    `json:"duplicates"`
	Rejected int                    `json:"rejected"`
}

type LatestTimestampResponse struct {
	LatestTimestamp *time.Time `json:"latest_timestamp"`
}

type UnevaluatedResponse struct {
	Events []models.Event `json:"events"`
	// Cursor for the next page: observed_at and id of the last event.
	NextAfterTS *time.Time `json:"next_after_ts,omitempty"`
	NextAfterID *uuid.UUID `json:"next_after_id,omitempty"`
}

type MarkEvaluatedRequest struct {
	EventIDs []uuid.UUID `json:"event_ids"`
}

type MarkEvaluatedResponse struct {
	UpdatedCount int64 `json:"updated_count"`
}

// RecognitionUpdate carries one re-enrichment result back to the hub.
type RecognitionUpdate struct {
	EventID  uuid.UUID           `json:"event_id"`
	Decision models.FaceDecision `json:"decision"`
}

type WithRecognitionRequest struct {
	Updates []RecognitionUpdate `json:"updates"`
}

// MediaUpdate attaches a stored image reference to an event.
type MediaUpdate struct {
	EventID  uuid.UUID `json:"event_id"`
	ImageRef string    `json:"image_ref"`
}

type WithMediaRequest struct {
	Updates []MediaUpdate `json:"updates"`
}

type UpdatedCountResponse struct {
	UpdatedCount int64 `json:"updated_count"`
}
