// Package intel is the threat evaluation engine: a single active instance
// pages never-evaluated events out of the hub, runs the enabled rule set over
// each page, and files immutable anomaly reports.
package intel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/rules"
	"github.com/your-org/sentinel/pkg/dto"
)

// Engine run phases, exported through the state gauge.
const (
	StateIdle       = 0
	StateFetching   = 1
	StateEvaluating = 2
	StateReporting  = 3
)

// Hub is the slice of the hub API the engine consumes.
type Hub interface {
	EnabledRules(ctx context.Context) ([]models.Rule, error)
	Unevaluated(ctx context.Context, limit int, afterTS *time.Time, afterID *uuid.UUID) (*dto.UnevaluatedResponse, error)
	MarkEvaluated(ctx context.Context, ids []uuid.UUID) (int64, error)
	CreateReports(ctx context.Context, reports []models.AnomalyReport) error
}

// Notifier publishes filed reports to downstream consumers. Best effort: a
// publish failure never fails the run.
type Notifier interface {
	PublishReport(ctx context.Context, report models.AnomalyReport) error
}

// LeaderLock guards single-active execution across instances.
type LeaderLock interface {
	Acquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) error
	Release(ctx context.Context)
}

type Engine struct {
	cfg      config.IntelConfig
	hub      Hub
	lease    LeaderLock
	notifier Notifier
	now      func() time.Time
}

func NewEngine(cfg config.IntelConfig, hub Hub, lease LeaderLock, notifier Notifier) *Engine {
	return &Engine{
		cfg:      cfg,
		hub:      hub,
		lease:    lease,
		notifier: notifier,
		now:      time.Now,
	}
}

// Run evaluates on the configured interval until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := e.RunOnce(ctx); err != nil {
			slog.Error("evaluation run failed", "error", err)
			observability.EngineRuns.WithLabelValues("error").Inc()
		} else {
			observability.EngineRuns.WithLabelValues("ok").Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one full evaluation pass under the leader lease. Reports
// for a page are always filed before the page is stamped evaluated, so a
// crash between the two re-evaluates the page rather than losing it.
func (e *Engine) RunOnce(ctx context.Context) error {
	held, err := e.lease.Acquire(ctx)
	if err != nil {
		return err
	}
	if !held {
		slog.Debug("another engine instance holds the lease, skipping run")
		return nil
	}
	defer e.lease.Release(ctx)
	defer observability.EngineState.Set(StateIdle)

	observability.EngineState.Set(StateFetching)
	ruleSet, err := e.hub.EnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	compiled := rules.Compile(ruleSet)
	if len(compiled) == 0 {
		slog.Info("no enabled rules, skipping run")
		return nil
	}

	var (
		afterTS *time.Time
		afterID *uuid.UUID
		pages   int
		total   int
	)
	for {
		observability.EngineState.Set(StateFetching)
		page, err := e.hub.Unevaluated(ctx, e.cfg.PageSize, afterTS, afterID)
		if err != nil {
			return fmt.Errorf("fetch page: %w", err)
		}
		if len(page.Events) == 0 {
			break
		}

		if err := e.evaluatePage(ctx, compiled, page.Events); err != nil {
			return err
		}
		pages++
		total += len(page.Events)

		if err := e.lease.Renew(ctx); err != nil {
			// Losing the lease mid-run means another instance may already be
			// active; stop before touching anything else.
			return err
		}

		afterTS = page.NextAfterTS
		afterID = page.NextAfterID
		if afterTS == nil || afterID == nil {
			break
		}
	}

	if total > 0 {
		slog.Info("evaluation run complete", "pages", pages, "events", total)
	}
	return nil
}

func (e *Engine) evaluatePage(ctx context.Context, compiled []rules.CompiledRule, events []models.Event) error {
	observability.EngineState.Set(StateEvaluating)
	drafts, err := rules.EvaluatePage(compiled, events)
	if err != nil {
		return fmt.Errorf("evaluate page: %w", err)
	}

	observability.EngineState.Set(StateReporting)
	if len(drafts) > 0 {
		now := e.now().UTC()
		reports := make([]models.AnomalyReport, 0, len(drafts))
		for _, d := range drafts {
			reports = append(reports, d.ToReport(now))
		}
		if err := e.hub.CreateReports(ctx, reports); err != nil {
			return fmt.Errorf("file reports: %w", err)
		}
		for _, r := range reports {
			observability.ReportsCreated.WithLabelValues(r.RuleID.String()).Inc()
			if e.notifier != nil {
				if err := e.notifier.PublishReport(ctx, r); err != nil {
					slog.Warn("report notification failed", "report_id", r.ID, "error", err)
				}
			}
		}
	}

	ids := make([]uuid.UUID, 0, len(events))
	for i := range events {
		ids = append(ids, events[i].ID)
	}
	if _, err := e.hub.MarkEvaluated(ctx, ids); err != nil {
		return fmt.Errorf("mark page evaluated: %w", err)
	}
	return nil
}
