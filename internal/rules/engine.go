package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/models"
)

// CompiledRule pairs a rule with its parsed predicate. Compilation happens
// once per run so a malformed expression is reported before any event is
// touched.
type CompiledRule struct {
	Rule models.Rule
	expr Expr
}

// Compile validates and parses a set of rules. A rule that fails to compile
// is skipped with a warning; the rest of the run proceeds.
func Compile(rules []models.Rule) []CompiledRule {
	compiled := make([]CompiledRule, 0, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			slog.Warn("skipping invalid rule", "rule_id", r.ID, "name", r.Name, "error", err)
			continue
		}
		cr := CompiledRule{Rule: r}
		if r.Kind == models.RuleKindExpression {
			expr, err := Parse(r.Expression)
			if err != nil {
				slog.Warn("skipping rule with malformed expression", "rule_id", r.ID, "name", r.Name, "error", err)
				continue
			}
			cr.expr = expr
		}
		compiled = append(compiled, cr)
	}
	return compiled
}

// Draft is a report before it gets an id and status.
type Draft struct {
	RuleID   uuid.UUID
	PersonID *uuid.UUID
	EventIDs []uuid.UUID
	Severity models.Severity
}

// ToReport materializes the draft into a new open report.
func (d Draft) ToReport(now time.Time) models.AnomalyReport {
	return models.AnomalyReport{
		ID:        uuid.New(),
		RuleID:    d.RuleID,
		PersonID:  d.PersonID,
		EventIDs:  d.EventIDs,
		Severity:  d.Severity,
		Status:    models.ReportOpen,
		CreatedAt: now,
	}
}

// EvaluatePage runs every compiled rule over one page of events and returns
// the report drafts the page triggers. Expression rules yield at most one
// draft per rule listing every matching event; frequency rules yield one
// draft per rule per person whose sightings cross the threshold.
func EvaluatePage(rules []CompiledRule, events []models.Event) ([]Draft, error) {
	var drafts []Draft
	for _, cr := range rules {
		switch cr.Rule.Kind {
		case models.RuleKindExpression:
			draft, err := evalExpression(cr, events)
			if err != nil {
				return nil, fmt.Errorf("rule %s (%s): %w", cr.Rule.Name, cr.Rule.ID, err)
			}
			if draft != nil {
				drafts = append(drafts, *draft)
			}
		case models.RuleKindFrequency:
			drafts = append(drafts, evalFrequency(cr, events)...)
		}
	}
	return drafts, nil
}

func evalExpression(cr CompiledRule, events []models.Event) (*Draft, error) {
	var matched []uuid.UUID
	for i := range events {
		ok, err := cr.expr.Eval(NewEventContext(&events[i]))
		if err != nil {
			// A resolution error on one event means the expression does not
			// apply to it, not that the run is broken.
			slog.Debug("expression did not apply", "rule_id", cr.Rule.ID, "event_id", events[i].ID, "error", err)
			continue
		}
		if ok {
			matched = append(matched, events[i].ID)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}
	return &Draft{
		RuleID:   cr.Rule.ID,
		EventIDs: matched,
		Severity: cr.Rule.Severity,
	}, nil
}

func evalFrequency(cr CompiledRule, events []models.Event) []Draft {
	spec := cr.Rule.Frequency

	type sighting struct {
		eventID    uuid.UUID
		observedAt time.Time
	}
	byPerson := make(map[uuid.UUID][]sighting)
	for i := range events {
		ev := &events[i]
		if spec.EventType != "" && ev.Type != spec.EventType {
			continue
		}
		d := ev.FaceDecision
		if !d.Identified() || d.PersonID == nil {
			continue
		}
		byPerson[*d.PersonID] = append(byPerson[*d.PersonID], sighting{ev.ID, ev.ObservedAt})
	}

	personIDs := make([]uuid.UUID, 0, len(byPerson))
	for pid := range byPerson {
		personIDs = append(personIDs, pid)
	}
	sort.Slice(personIDs, func(i, j int) bool { return personIDs[i].String() < personIDs[j].String() })

	var drafts []Draft
	for _, pid := range personIDs {
		sightings := byPerson[pid]
		sort.Slice(sightings, func(i, j int) bool { return sightings[i].observedAt.Before(sightings[j].observedAt) })

		// Sliding window over the sorted sightings; an event contributes when
		// it sits inside any window holding at least MinCount sightings.
		contributing := make(map[uuid.UUID]struct{})
		lo := 0
		for hi := range sightings {
			for sightings[hi].observedAt.Sub(sightings[lo].observedAt) > spec.Window {
				lo++
			}
			if hi-lo+1 >= spec.MinCount {
				for k := lo; k <= hi; k++ {
					contributing[sightings[k].eventID] = struct{}{}
				}
			}
		}
		if len(contributing) == 0 {
			continue
		}

		ids := make([]uuid.UUID, 0, len(contributing))
		for _, s := range sightings {
			if _, ok := contributing[s.eventID]; ok {
				ids = append(ids, s.eventID)
			}
		}
		p := pid
		drafts = append(drafts, Draft{
			RuleID:   cr.Rule.ID,
			PersonID: &p,
			EventIDs: ids,
			Severity: cr.Rule.Severity,
		})
	}
	return drafts
}
