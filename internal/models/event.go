package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTypeAppearance EventType = "APPEARANCE"
	EventTypeMotion     EventType = "MOTION"
)

// eventIDNamespace is the UUIDv5 namespace for deriving stable event IDs.
// Never change it: it defines the dedup key space.
var eventIDNamespace = uuid.MustParse("7f9c24e5-2e51-4a3b-9a6d-0c5f1d3b8e42")

// DeriveEventID returns the stable identity of an observed occurrence. The
// same source record always maps to the same ID, which is what makes
// re-ingestion after a lost ack a safe no-op.
func DeriveEventID(sourceServerID, cameraID string, observedAt time.Time, typ EventType) uuid.UUID {
	key := fmt.Sprintf("%s|%s|%d|%s", sourceServerID, cameraID, observedAt.UTC().UnixMilli(), typ)
	return uuid.NewSHA1(eventIDNamespace, []byte(key))
}

type Event struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	SiteID         string          `json:"site_id" db:"site_id"`
	CameraID       string          `json:"camera_id" db:"camera_id"`
	SourceServerID string          `json:"source_server_id" db:"source_server_id"`
	Type           EventType       `json:"type" db:"type"`
	ObservedAt     time.Time       `json:"observed_at" db:"observed_at"`
	ImageRef       string          `json:"image_ref,omitempty" db:"image_ref"`
	FaceDecision   *FaceDecision   `json:"face_decision,omitempty" db:"face_decision"`
	Payload        json.RawMessage `json:"payload,omitempty" db:"payload"`
	IngestedAt     *time.Time      `json:"ingested_at,omitempty" db:"ingested_at"`
	EvaluatedAt    *time.Time      `json:"evaluated_at,omitempty" db:"evaluated_at"`
}

// Validate checks the fields every stored event must carry. Validation
// failures reject the single record, never the batch.
func (e *Event) Validate() error {
	if e.SiteID == "" {
		return fmt.Errorf("event missing site id")
	}
	if e.CameraID == "" {
		return fmt.Errorf("event missing camera id")
	}
	if e.SourceServerID == "" {
		return fmt.Errorf("event missing source server id")
	}
	if e.Type != EventTypeAppearance && e.Type != EventTypeMotion {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.ObservedAt.IsZero() {
		return fmt.Errorf("event missing observed_at")
	}
	if e.ID == uuid.Nil {
		return fmt.Errorf("event missing id")
	}
	if want := DeriveEventID(e.SourceServerID, e.CameraID, e.ObservedAt, e.Type); e.ID != want {
		return fmt.Errorf("event id %s does not match derived id %s", e.ID, want)
	}
	if e.FaceDecision != nil {
		if err := e.FaceDecision.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type IngestStatus string

const (
	IngestAccepted  IngestStatus = "ACCEPTED"
	IngestDuplicate IngestStatus = "DUPLICATE"
	IngestRejected  IngestStatus = "REJECTED"
)

// IngestOutcome is the per-item result of a batch submission.
type IngestOutcome struct {
	EventID uuid.UUID    `json:"event_id"`
	Status  IngestStatus `json:"status"`
	Reason  string       `json:"reason,omitempty"`
}
