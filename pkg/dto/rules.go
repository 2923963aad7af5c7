package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/models"
)

type FrequencySpecRequest struct {
	MinCount      int              `json:"min_count"`
	WindowSeconds int              `json:"window_seconds"`
	EventType     models.EventType `json:"event_type,omitempty"`
}

type CreateRuleRequest struct {
	Name       string                `json:"name" binding:"required"`
	Kind       models.RuleKind       `json:"kind" binding:"required"`
	Expression string                `json:"expression,omitempty"`
	Frequency  *FrequencySpecRequest `json:"frequency,omitempty"`
	Severity   models.Severity       `json:"severity" binding:"required"`
	Enabled    *bool                 `json:"enabled,omitempty"`
}

// ToModel converts the request into a rule, translating the wire-friendly
// window seconds into a duration.
func (r *CreateRuleRequest) ToModel() *models.Rule {
	rule := &models.Rule{
		Name:       r.Name,
		Kind:       r.Kind,
		Expression: r.Expression,
		Severity:   r.Severity,
		Enabled:    true,
	}
	if r.Enabled != nil {
		rule.Enabled = *r.Enabled
	}
	if r.Frequency != nil {
		rule.Frequency = &models.FrequencySpec{
			MinCount:  r.Frequency.MinCount,
			Window:    time.Duration(r.Frequency.WindowSeconds) * time.Second,
			EventType: r.Frequency.EventType,
		}
	}
	return rule
}

type SetRuleEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

type CreateReportsRequest struct {
	Reports []models.AnomalyReport `json:"reports"`
}

type ReportStatusRequest struct {
	Status models.ReportStatus `json:"status" binding:"required"`
}

type MergePersonsRequest struct {
	SourceID uuid.UUID `json:"source_id" binding:"required"`
}

// WSMessage is one frame on the anomaly live feed.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
