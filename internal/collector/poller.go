// Package collector polls camera-management sites for new events, enriches
// appearances with stored frames and face decisions, and submits batches to
// the hub. The poll position is derived from the hub's stored data, so a
// batch that was never acknowledged is simply re-polled and deduplicated.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
	"github.com/your-org/sentinel/internal/source"
	"github.com/your-org/sentinel/internal/storage"
	"github.com/your-org/sentinel/pkg/dto"
)

// watermarkBuffer keeps the next poll window from re-reading the newest
// stored event while still never leaving a gap.
const watermarkBuffer = time.Millisecond

// SourceAPI is the slice of the camera-management adapter the poller uses.
type SourceAPI interface {
	Servers(ctx context.Context) ([]source.ServerInfo, error)
	SearchEvents(ctx context.Context, serverID string, from, to time.Time, fn func([]source.RawEvent) error) error
	SearchAppearances(ctx context.Context, from, to time.Time, fn func([]source.RawAppearance) error) error
	Media(ctx context.Context, cameraID string, ts time.Time) ([]byte, error)
}

// Hub is the slice of the hub API the collector talks to.
type Hub interface {
	Ingest(ctx context.Context, events []models.Event, idempotencyToken string) ([]models.IngestOutcome, error)
	LatestTimestamp(ctx context.Context, siteID string, typ models.EventType) (*time.Time, error)
	EventsNeedingRecognition(ctx context.Context, limit int) ([]models.Event, error)
	AttachRecognition(ctx context.Context, updates []dto.RecognitionUpdate) (int64, error)
	EventsNeedingMedia(ctx context.Context, limit int) ([]models.Event, error)
	AttachMedia(ctx context.Context, updates []dto.MediaUpdate) (int64, error)
}

// FaceMatcher resolves an image to a face decision. Failures come back as an
// ERROR decision, never as an error value.
type FaceMatcher interface {
	MatchOrIndex(ctx context.Context, image []byte) models.FaceDecision
}

// ImageSink stores raw frames under canonical keys.
type ImageSink interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Poller drives one site.
type Poller struct {
	site    config.SiteConfig
	cfg     config.CollectorConfig
	api     SourceAPI
	hub     Hub
	matcher FaceMatcher
	images  ImageSink
	now     func() time.Time
}

func NewPoller(site config.SiteConfig, cfg config.CollectorConfig, api SourceAPI, hub Hub, matcher FaceMatcher, images ImageSink) *Poller {
	return &Poller{
		site:    site,
		cfg:     cfg,
		api:     api,
		hub:     hub,
		matcher: matcher,
		images:  images,
		now:     time.Now,
	}
}

// Run polls until the context is cancelled. One failed tick is logged and
// retried on the next interval; the derived watermark guarantees nothing is
// skipped.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := p.Tick(ctx); err != nil {
			slog.Error("poll tick failed", "site", p.site.ID, "error", err)
			observability.CollectorTicks.WithLabelValues(p.site.ID, "error").Inc()
		} else {
			observability.CollectorTicks.WithLabelValues(p.site.ID, "ok").Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick polls one window for both event types and submits everything found.
func (p *Poller) Tick(ctx context.Context) error {
	to := p.now().UTC()

	motionFrom, err := p.windowStart(ctx, models.EventTypeMotion, to)
	if err != nil {
		return err
	}
	appearanceFrom, err := p.windowStart(ctx, models.EventTypeAppearance, to)
	if err != nil {
		return err
	}

	var batch []models.Event

	motion, err := p.collectMotion(ctx, motionFrom, to)
	if err != nil {
		return err
	}
	batch = append(batch, motion...)

	appearances, err := p.collectAppearances(ctx, appearanceFrom, to)
	if err != nil {
		return err
	}
	batch = append(batch, appearances...)

	if len(batch) == 0 {
		return nil
	}

	// Oldest first, so a partially submitted tick never leaves a hole behind
	// the derived watermark.
	sort.Slice(batch, func(i, j int) bool { return batch[i].ObservedAt.Before(batch[j].ObservedAt) })

	return p.submit(ctx, batch)
}

// windowStart returns the poll window's lower bound: one buffer past the
// newest stored event, clamped to the backfill horizon.
func (p *Poller) windowStart(ctx context.Context, typ models.EventType, to time.Time) (time.Time, error) {
	horizon := to.AddDate(0, 0, -p.cfg.BackfillDays)

	latest, err := p.hub.LatestTimestamp(ctx, p.site.ID, typ)
	if err != nil {
		return time.Time{}, fmt.Errorf("watermark for %s/%s: %w", p.site.ID, typ, err)
	}
	if latest == nil {
		return horizon, nil
	}
	observability.WatermarkLag.WithLabelValues(p.site.ID).Set(to.Sub(*latest).Seconds())

	from := latest.Add(watermarkBuffer)
	if from.Before(horizon) {
		return horizon, nil
	}
	return from, nil
}

// collectMotion fans the window out to every server at the site and unions
// the results.
func (p *Poller) collectMotion(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	servers, err := p.api.Servers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list servers for %s: %w", p.site.ID, err)
	}

	var events []models.Event
	for _, srv := range servers {
		err := p.api.SearchEvents(ctx, srv.ID, from, to, func(page []source.RawEvent) error {
			for _, raw := range page {
				if raw.Type != source.MotionEventType {
					continue
				}
				events = append(events, models.Event{
					ID:             models.DeriveEventID(raw.ServerID, raw.CameraID, raw.Timestamp, models.EventTypeMotion),
					SiteID:         p.site.ID,
					CameraID:       raw.CameraID,
					SourceServerID: raw.ServerID,
					Type:           models.EventTypeMotion,
					ObservedAt:     raw.Timestamp.UTC(),
					Payload:        raw.Raw,
				})
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("search events on %s/%s: %w", p.site.ID, srv.ID, err)
		}
	}
	return events, nil
}

// collectAppearances polls the site-wide appearance search and enriches each
// record inline: frame stored to the image sink, face decision from the
// matcher. Enrichment failures degrade the record, never drop it; the sweeps
// repair it later.
func (p *Poller) collectAppearances(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	var events []models.Event
	err := p.api.SearchAppearances(ctx, from, to, func(page []source.RawAppearance) error {
		for _, raw := range page {
			events = append(events, p.buildAppearance(ctx, raw))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search appearances on %s: %w", p.site.ID, err)
	}
	return events, nil
}

func (p *Poller) buildAppearance(ctx context.Context, raw source.RawAppearance) models.Event {
	observedAt := raw.Timestamp.UTC()
	ev := models.Event{
		ID:             models.DeriveEventID(p.site.ID, raw.CameraID, observedAt, models.EventTypeAppearance),
		SiteID:         p.site.ID,
		CameraID:       raw.CameraID,
		SourceServerID: p.site.ID,
		Type:           models.EventTypeAppearance,
		ObservedAt:     observedAt,
		Payload:        raw.Raw,
	}

	frameAt := observedAt
	if raw.SnapshotTimestamp != nil {
		frameAt = raw.SnapshotTimestamp.UTC()
	}

	image, err := p.api.Media(ctx, raw.CameraID, frameAt)
	if err != nil {
		slog.Warn("frame fetch failed, ingesting without image",
			"site", p.site.ID, "camera", raw.CameraID, "event_id", ev.ID, "error", err)
		return ev
	}

	key := storage.ImageKey(observedAt, ev.ID.String())
	if err := p.images.Put(ctx, key, image, "image/jpeg"); err != nil {
		slog.Warn("frame store failed, ingesting without image",
			"site", p.site.ID, "event_id", ev.ID, "error", err)
		return ev
	}
	ev.ImageRef = key

	decision := p.matcher.MatchOrIndex(ctx, image)
	ev.FaceDecision = &decision
	return ev
}

// submit sends the tick's events oldest-first in bounded batches. A batch
// failure aborts the tick before any newer batch, keeping the stored data
// gap-free for the derived watermark.
func (p *Poller) submit(ctx context.Context, events []models.Event) error {
	for start := 0; start < len(events); start += p.cfg.BatchLimit {
		end := start + p.cfg.BatchLimit
		if end > len(events) {
			end = len(events)
		}
		batch := events[start:end]

		// Token derived from the batch content: a resubmission of the same
		// batch replays recorded outcomes instead of reprocessing.
		token := fmt.Sprintf("%s:%s:%s", p.site.ID, batch[0].ID, batch[len(batch)-1].ID)

		outcomes, err := p.hub.Ingest(ctx, batch, token)
		if err != nil {
			return fmt.Errorf("submit batch for %s: %w", p.site.ID, err)
		}
		for _, o := range outcomes {
			if o.Status == models.IngestRejected {
				slog.Warn("hub rejected event", "site", p.site.ID, "event_id", o.EventID, "reason", o.Reason)
			}
		}
		slog.Info("submitted batch", "site", p.site.ID, "items", len(batch))
	}
	return nil
}
