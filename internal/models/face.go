package models

import (
	"fmt"

	"github.com/google/uuid"
)

type FaceStatus string

const (
	FaceMatched FaceStatus = "MATCHED"
	FaceIndexed FaceStatus = "INDEXED"
	FaceNoFace  FaceStatus = "NO_FACE"
	FaceError   FaceStatus = "ERROR"
)

// FaceDecision is the outcome of one match-or-index call against the
// recognition service. PersonID is assigned hub-side during ingestion.
type FaceDecision struct {
	Status         FaceStatus `json:"status"`
	PersonID       *uuid.UUID `json:"person_id,omitempty"`
	ExternalFaceID string     `json:"external_face_id,omitempty"`
	Confidence     float64    `json:"confidence,omitempty"`
	Error          string     `json:"error,omitempty"`
}

func (d *FaceDecision) Validate() error {
	switch d.Status {
	case FaceMatched:
		if d.ExternalFaceID == "" {
			return fmt.Errorf("matched decision missing external face id")
		}
		if d.Confidence < 0 || d.Confidence > 1 {
			return fmt.Errorf("matched decision confidence %v outside [0,1]", d.Confidence)
		}
	case FaceIndexed:
		if d.ExternalFaceID == "" {
			return fmt.Errorf("indexed decision missing external face id")
		}
	case FaceNoFace:
		if d.ExternalFaceID != "" || d.PersonID != nil {
			return fmt.Errorf("no-face decision must not carry identity")
		}
	case FaceError:
		if d.PersonID != nil {
			return fmt.Errorf("error decision must not carry a person id")
		}
	default:
		return fmt.Errorf("unknown face decision status %q", d.Status)
	}
	return nil
}

// Identified reports whether the decision binds the event to an identity.
func (d *FaceDecision) Identified() bool {
	return d != nil && (d.Status == FaceMatched || d.Status == FaceIndexed)
}
