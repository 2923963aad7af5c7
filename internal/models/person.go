package models

import (
	"time"

	"github.com/google/uuid"
)

// Person is a curated identity aggregating one or more recognized faces.
// FaceIDs has set semantics: merges union it, never shrink it.
type Person struct {
	ID         uuid.UUID `json:"id" db:"id"`
	FaceIDs    []string  `json:"face_ids" db:"face_ids"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at" db:"last_seen_at"`
}

// HasFace reports whether the person already owns the given external face id.
func (p *Person) HasFace(faceID string) bool {
	for _, f := range p.FaceIDs {
		if f == faceID {
			return true
		}
	}
	return false
}
