package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ReportStatus string

const (
	ReportOpen      ReportStatus = "OPEN"
	ReportReviewed  ReportStatus = "REVIEWED"
	ReportDismissed ReportStatus = "DISMISSED"
)

// AnomalyReport groups the events that triggered one rule in one evaluation
// pass. EventIDs keeps detection order. Reports are immutable after creation;
// only the review status moves. Corrections are new reports.
type AnomalyReport struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	RuleID    uuid.UUID    `json:"rule_id" db:"rule_id"`
	PersonID  *uuid.UUID   `json:"person_id,omitempty" db:"person_id"`
	EventIDs  []uuid.UUID  `json:"event_ids" db:"event_ids"`
	Severity  Severity     `json:"severity" db:"severity"`
	Status    ReportStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

func (r *AnomalyReport) Validate() error {
	if r.RuleID == uuid.Nil {
		return fmt.Errorf("report missing rule id")
	}
	if len(r.EventIDs) == 0 {
		return fmt.Errorf("report must reference at least one event")
	}
	switch r.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	return nil
}
