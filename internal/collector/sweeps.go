package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/pkg/dto"
)

// Sweeper repairs stored events that were ingested degraded: missing frames
// are re-fetched from the owning site, missing or errored face decisions are
// re-run against the recognition service.
type Sweeper struct {
	cfg     config.CollectorConfig
	hub     Hub
	matcher FaceMatcher
	images  ImageSink
	// sites maps site id to its camera-management adapter; media can only be
	// re-fetched from the site that produced the event.
	sites map[string]SourceAPI
	// imageGet loads stored frames for recognition re-runs.
	imageGet func(ctx context.Context, key string) ([]byte, error)
}

func NewSweeper(cfg config.CollectorConfig, hub Hub, matcher FaceMatcher, images ImageSink,
	sites map[string]SourceAPI, imageGet func(ctx context.Context, key string) ([]byte, error)) *Sweeper {
	return &Sweeper{
		cfg:      cfg,
		hub:      hub,
		matcher:  matcher,
		images:   images,
		sites:    sites,
		imageGet: imageGet,
	}
}

// Run drives both sweep loops until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	media := time.NewTicker(s.cfg.MediaSweepInterval)
	recognition := time.NewTicker(s.cfg.RecognitionSweepInterval)
	defer media.Stop()
	defer recognition.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-media.C:
			if err := s.SweepMedia(ctx); err != nil {
				slog.Error("media sweep failed", "error", err)
			}
		case <-recognition.C:
			if err := s.SweepRecognition(ctx); err != nil {
				slog.Error("recognition sweep failed", "error", err)
			}
		}
	}
}

// SweepMedia backfills image references for events stored without one.
func (s *Sweeper) SweepMedia(ctx context.Context) error {
	events, err := s.hub.EventsNeedingMedia(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	var updates []dto.MediaUpdate
	for i := range events {
		ev := &events[i]
		api, ok := s.sites[ev.SiteID]
		if !ok {
			slog.Warn("no adapter for site, skipping media backfill", "site", ev.SiteID, "event_id", ev.ID)
			continue
		}

		image, err := api.Media(ctx, ev.CameraID, ev.ObservedAt)
		if err != nil {
			slog.Warn("media backfill fetch failed", "site", ev.SiteID, "event_id", ev.ID, "error", err)
			continue
		}

		key := storage.ImageKey(ev.ObservedAt, ev.ID.String())
		if err := s.images.Put(ctx, key, image, "image/jpeg"); err != nil {
			slog.Warn("media backfill store failed", "event_id", ev.ID, "error", err)
			continue
		}
		updates = append(updates, dto.MediaUpdate{EventID: ev.ID, ImageRef: key})
	}

	if len(updates) == 0 {
		return nil
	}
	n, err := s.hub.AttachMedia(ctx, updates)
	if err != nil {
		return err
	}
	slog.Info("media sweep attached frames", "attempted", len(updates), "updated", n)
	return nil
}

// SweepRecognition re-runs match-or-index for appearance events whose face
// decision is missing or errored. A sweep result that is still ERROR is not
// sent back, so the event stays eligible for the next pass.
func (s *Sweeper) SweepRecognition(ctx context.Context) error {
	events, err := s.hub.EventsNeedingRecognition(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	var updates []dto.RecognitionUpdate
	for i := range events {
		ev := &events[i]
		image, err := s.imageGet(ctx, ev.ImageRef)
		if err != nil {
			slog.Warn("recognition sweep image load failed", "event_id", ev.ID, "key", ev.ImageRef, "error", err)
			continue
		}

		decision := s.matcher.MatchOrIndex(ctx, image)
		if decision.Status == models.FaceError {
			slog.Warn("recognition sweep still failing", "event_id", ev.ID, "error", decision.Error)
			continue
		}
		updates = append(updates, dto.RecognitionUpdate{EventID: ev.ID, Decision: decision})
	}

	if len(updates) == 0 {
		return nil
	}
	n, err := s.hub.AttachRecognition(ctx, updates)
	if err != nil {
		return err
	}
	slog.Info("recognition sweep attached decisions", "attempted", len(updates), "updated", n)
	return nil
}
