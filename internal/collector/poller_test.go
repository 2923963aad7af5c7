package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/source"
	"github.com/your-org/sentinel/pkg/dto"
)

type fakeSource struct {
	servers     []source.ServerInfo
	events      map[string][]source.RawEvent
	appearances []source.RawAppearance
	mediaErr    error
	media       []byte

	eventWindows      []window
	appearanceWindows []window
}

type window struct{ from, to time.Time }

func (f *fakeSource) Servers(ctx context.Context) ([]source.ServerInfo, error) {
	return f.servers, nil
}

func (f *fakeSource) SearchEvents(ctx context.Context, serverID string, from, to time.Time, fn func([]source.RawEvent) error) error {
	f.eventWindows = append(f.eventWindows, window{from, to})
	if evs := f.events[serverID]; len(evs) > 0 {
		return fn(evs)
	}
	return nil
}

func (f *fakeSource) SearchAppearances(ctx context.Context, from, to time.Time, fn func([]source.RawAppearance) error) error {
	f.appearanceWindows = append(f.appearanceWindows, window{from, to})
	if len(f.appearances) > 0 {
		return fn(f.appearances)
	}
	return nil
}

func (f *fakeSource) Media(ctx context.Context, cameraID string, ts time.Time) ([]byte, error) {
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}
	return f.media, nil
}

type fakeHub struct {
	latest     map[models.EventType]*time.Time
	batches    [][]models.Event
	tokens     []string
	ingestErr  error
	forMedia   []models.Event
	mediaUpds  []dto.MediaUpdate
	forRecog   []models.Event
	recogUpds  []dto.RecognitionUpdate
}

func (f *fakeHub) Ingest(ctx context.Context, events []models.Event, token string) ([]models.IngestOutcome, error) {
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	f.batches = append(f.batches, events)
	f.tokens = append(f.tokens, token)
	outcomes := make([]models.IngestOutcome, len(events))
	for i, ev := range events {
		outcomes[i] = models.IngestOutcome{EventID: ev.ID, Status: models.IngestAccepted}
	}
	return outcomes, nil
}

func (f *fakeHub) LatestTimestamp(ctx context.Context, siteID string, typ models.EventType) (*time.Time, error) {
	return f.latest[typ], nil
}

func (f *fakeHub) EventsNeedingRecognition(ctx context.Context, limit int) ([]models.Event, error) {
	return f.forRecog, nil
}

func (f *fakeHub) AttachRecognition(ctx context.Context, updates []dto.RecognitionUpdate) (int64, error) {
	f.recogUpds = append(f.recogUpds, updates...)
	return int64(len(updates)), nil
}

func (f *fakeHub) EventsNeedingMedia(ctx context.Context, limit int) ([]models.Event, error) {
	return f.forMedia, nil
}

func (f *fakeHub) AttachMedia(ctx context.Context, updates []dto.MediaUpdate) (int64, error) {
	f.mediaUpds = append(f.mediaUpds, updates...)
	return int64(len(updates)), nil
}

type fakeMatcher struct {
	decision models.FaceDecision
	calls    int
}

func (f *fakeMatcher) MatchOrIndex(ctx context.Context, image []byte) models.FaceDecision {
	f.calls++
	return f.decision
}

type fakeSink struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeSink) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return nil
}

func testConfig() config.CollectorConfig {
	return config.CollectorConfig{
		BackfillDays:   30,
		BatchLimit:     100,
		SweepBatchSize: 10,
	}
}

func testPoller(api *fakeSource, hub *fakeHub, matcher *fakeMatcher, sink *fakeSink, now time.Time) *Poller {
	p := NewPoller(config.SiteConfig{ID: "site-a"}, testConfig(), api, hub, matcher, sink)
	p.now = func() time.Time { return now }
	return p
}

func TestTickUsesBackfillHorizonWithoutWatermark(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeSource{servers: []source.ServerInfo{{ID: "srv-1"}}}
	hub := &fakeHub{latest: map[models.EventType]*time.Time{}}
	p := testPoller(api, hub, &fakeMatcher{}, &fakeSink{}, now)

	require.NoError(t, p.Tick(context.Background()))

	require.Len(t, api.eventWindows, 1)
	assert.Equal(t, now.AddDate(0, 0, -30), api.eventWindows[0].from)
	assert.Equal(t, now, api.eventWindows[0].to)
}

func TestTickStartsJustPastWatermark(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mark := now.Add(-10 * time.Minute)
	api := &fakeSource{servers: []source.ServerInfo{{ID: "srv-1"}}}
	hub := &fakeHub{latest: map[models.EventType]*time.Time{
		models.EventTypeMotion:     &mark,
		models.EventTypeAppearance: &mark,
	}}
	p := testPoller(api, hub, &fakeMatcher{}, &fakeSink{}, now)

	require.NoError(t, p.Tick(context.Background()))

	require.Len(t, api.eventWindows, 1)
	assert.Equal(t, mark.Add(time.Millisecond), api.eventWindows[0].from)
	require.Len(t, api.appearanceWindows, 1)
	assert.Equal(t, mark.Add(time.Millisecond), api.appearanceWindows[0].from)
}

func TestTickIngestsMotionFromAllServers(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	at1 := now.Add(-5 * time.Minute)
	at2 := now.Add(-3 * time.Minute)
	api := &fakeSource{
		servers: []source.ServerInfo{{ID: "srv-1"}, {ID: "srv-2"}},
		events: map[string][]source.RawEvent{
			"srv-1": {
				{Type: source.MotionEventType, CameraID: "cam-1", Timestamp: at2, ServerID: "srv-1"},
				{Type: "SOMETHING_ELSE", CameraID: "cam-1", Timestamp: at2, ServerID: "srv-1"},
			},
			"srv-2": {
				{Type: source.MotionEventType, CameraID: "cam-2", Timestamp: at1, ServerID: "srv-2"},
			},
		},
	}
	hub := &fakeHub{latest: map[models.EventType]*time.Time{}}
	p := testPoller(api, hub, &fakeMatcher{}, &fakeSink{}, now)

	require.NoError(t, p.Tick(context.Background()))

	require.Len(t, hub.batches, 1)
	batch := hub.batches[0]
	require.Len(t, batch, 2, "non-motion source types are dropped")

	// Oldest first regardless of server order.
	assert.Equal(t, "cam-2", batch[0].CameraID)
	assert.Equal(t, "cam-1", batch[1].CameraID)
	for _, ev := range batch {
		assert.Equal(t, models.EventTypeMotion, ev.Type)
		assert.NoError(t, ev.Validate())
	}
}

func TestTickEnrichesAppearances(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	snapAt := now.Add(-2 * time.Minute)
	api := &fakeSource{
		servers: []source.ServerInfo{{ID: "srv-1"}},
		media:   []byte("jpeg-bytes"),
		appearances: []source.RawAppearance{
			{CameraID: "cam-9", Timestamp: now.Add(-3 * time.Minute), SnapshotTimestamp: &snapAt},
		},
	}
	hub := &fakeHub{latest: map[models.EventType]*time.Time{}}
	matcher := &fakeMatcher{decision: models.FaceDecision{Status: models.FaceIndexed, ExternalFaceID: "face-1"}}
	sink := &fakeSink{}
	p := testPoller(api, hub, matcher, sink, now)

	require.NoError(t, p.Tick(context.Background()))

	require.Len(t, hub.batches, 1)
	require.Len(t, hub.batches[0], 1)
	ev := hub.batches[0][0]
	assert.Equal(t, models.EventTypeAppearance, ev.Type)
	assert.NotEmpty(t, ev.ImageRef)
	require.NotNil(t, ev.FaceDecision)
	assert.Equal(t, models.FaceIndexed, ev.FaceDecision.Status)
	assert.Contains(t, sink.objects, ev.ImageRef)
	assert.Equal(t, 1, matcher.calls)
	assert.NoError(t, ev.Validate())
}

func TestTickIngestsAppearanceDespiteMediaFailure(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeSource{
		servers:     []source.ServerInfo{{ID: "srv-1"}},
		mediaErr:    errors.New("camera offline"),
		appearances: []source.RawAppearance{{CameraID: "cam-9", Timestamp: now.Add(-time.Minute)}},
	}
	hub := &fakeHub{latest: map[models.EventType]*time.Time{}}
	matcher := &fakeMatcher{}
	p := testPoller(api, hub, matcher, &fakeSink{}, now)

	require.NoError(t, p.Tick(context.Background()))

	require.Len(t, hub.batches, 1)
	ev := hub.batches[0][0]
	assert.Empty(t, ev.ImageRef, "event is kept, enrichment is deferred to the sweeps")
	assert.Nil(t, ev.FaceDecision)
	assert.Equal(t, 0, matcher.calls)
}

func TestTickSplitsBatchesAndDerivesTokens(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var raws []source.RawEvent
	for i := 0; i < 5; i++ {
		raws = append(raws, source.RawEvent{
			Type: source.MotionEventType, CameraID: "cam-1",
			Timestamp: now.Add(time.Duration(-i) * time.Minute), ServerID: "srv-1",
		})
	}
	api := &fakeSource{servers: []source.ServerInfo{{ID: "srv-1"}}, events: map[string][]source.RawEvent{"srv-1": raws}}
	hub := &fakeHub{latest: map[models.EventType]*time.Time{}}

	cfg := testConfig()
	cfg.BatchLimit = 2
	p := NewPoller(config.SiteConfig{ID: "site-a"}, cfg, api, hub, &fakeMatcher{}, &fakeSink{})
	p.now = func() time.Time { return now }

	require.NoError(t, p.Tick(context.Background()))

	require.Len(t, hub.batches, 3)
	assert.Len(t, hub.batches[0], 2)
	assert.Len(t, hub.batches[2], 1)
	for i, batch := range hub.batches {
		want := "site-a:" + batch[0].ID.String() + ":" + batch[len(batch)-1].ID.String()
		assert.Equal(t, want, hub.tokens[i])
	}
}

func TestTickPropagatesIngestFailure(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeSource{
		servers: []source.ServerInfo{{ID: "srv-1"}},
		events: map[string][]source.RawEvent{"srv-1": {
			{Type: source.MotionEventType, CameraID: "cam-1", Timestamp: now.Add(-time.Minute), ServerID: "srv-1"},
		}},
	}
	hub := &fakeHub{latest: map[models.EventType]*time.Time{}, ingestErr: errors.New("hub down")}
	p := testPoller(api, hub, &fakeMatcher{}, &fakeSink{}, now)

	assert.Error(t, p.Tick(context.Background()),
		"an unacknowledged batch must fail the tick so the window is re-polled")
}
