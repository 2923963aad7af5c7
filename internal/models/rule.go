package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RuleKind string

const (
	// RuleKindExpression evaluates a predicate against each event.
	RuleKindExpression RuleKind = "EXPRESSION"
	// RuleKindFrequency triggers on N+ events for one person inside a window.
	RuleKindFrequency RuleKind = "FREQUENCY"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// FrequencySpec parameterizes a FREQUENCY rule.
type FrequencySpec struct {
	MinCount  int           `json:"min_count" yaml:"min_count"`
	Window    time.Duration `json:"window" yaml:"window"`
	EventType EventType     `json:"event_type,omitempty" yaml:"event_type"`
}

type Rule struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	Name       string         `json:"name" db:"name"`
	Enabled    bool           `json:"enabled" db:"enabled"`
	Kind       RuleKind       `json:"kind" db:"kind"`
	Expression string         `json:"expression,omitempty" db:"expression"`
	Frequency  *FrequencySpec `json:"frequency,omitempty" db:"frequency"`
	Severity   Severity       `json:"severity" db:"severity"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule missing name")
	}
	switch r.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return fmt.Errorf("unknown severity %q", r.Severity)
	}
	switch r.Kind {
	case RuleKindExpression:
		if r.Expression == "" {
			return fmt.Errorf("expression rule missing expression")
		}
	case RuleKindFrequency:
		if r.Frequency == nil {
			return fmt.Errorf("frequency rule missing frequency spec")
		}
		if r.Frequency.MinCount < 2 {
			return fmt.Errorf("frequency rule min_count must be at least 2")
		}
		if r.Frequency.Window <= 0 {
			return fmt.Errorf("frequency rule window must be positive")
		}
	default:
		return fmt.Errorf("unknown rule kind %q", r.Kind)
	}
	return nil
}
