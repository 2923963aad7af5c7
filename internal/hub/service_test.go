package hub

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sentinel/internal/models"
)

type memStore struct {
	events    map[uuid.UUID]*models.Event
	persons   map[uuid.UUID]*models.Person
	faceOwner map[string]uuid.UUID
	ledger    map[string][]models.IngestOutcome
	inserts   int

	// hidePersonLookup simulates losing the cross-process race: the lookup
	// misses but the create collides with an already-claimed face.
	hidePersonLookup bool
}

func newMemStore() *memStore {
	return &memStore{
		events:    map[uuid.UUID]*models.Event{},
		persons:   map[uuid.UUID]*models.Person{},
		faceOwner: map[string]uuid.UUID{},
		ledger:    map[string][]models.IngestOutcome{},
	}
}

func (m *memStore) InsertEvent(_ context.Context, ev *models.Event) (bool, error) {
	if _, ok := m.events[ev.ID]; ok {
		return false, nil
	}
	cp := *ev
	m.events[ev.ID] = &cp
	m.inserts++
	return true, nil
}

func (m *memStore) GetEvent(_ context.Context, id uuid.UUID) (*models.Event, error) {
	ev, ok := m.events[id]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (m *memStore) AttachFaceDecision(_ context.Context, id uuid.UUID, d *models.FaceDecision) (bool, error) {
	ev, ok := m.events[id]
	if !ok {
		return false, nil
	}
	if ev.FaceDecision != nil && ev.FaceDecision.Status != models.FaceError {
		return false, nil
	}
	cp := *d
	ev.FaceDecision = &cp
	return true, nil
}

func (m *memStore) MarkEvaluated(_ context.Context, ids []uuid.UUID) (int64, error) {
	var n int64
	now := time.Now()
	for _, id := range ids {
		if ev, ok := m.events[id]; ok && ev.EvaluatedAt == nil {
			ev.EvaluatedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memStore) PersonByFaceID(_ context.Context, faceID string) (*models.Person, error) {
	if m.hidePersonLookup {
		return nil, nil
	}
	pid, ok := m.faceOwner[faceID]
	if !ok {
		return nil, nil
	}
	return m.persons[pid], nil
}

func (m *memStore) CreatePersonWithFace(_ context.Context, personID uuid.UUID, faceID string, seenAt time.Time) (*models.Person, bool, error) {
	if winner, ok := m.faceOwner[faceID]; ok {
		return m.persons[winner], false, nil
	}
	p := &models.Person{ID: personID, FaceIDs: []string{faceID}, CreatedAt: seenAt, LastSeenAt: seenAt}
	m.persons[personID] = p
	m.faceOwner[faceID] = personID
	return p, true, nil
}

func (m *memStore) TouchPerson(_ context.Context, personID uuid.UUID, faceID string, seenAt time.Time) error {
	p := m.persons[personID]
	if p == nil {
		return nil
	}
	if seenAt.After(p.LastSeenAt) {
		p.LastSeenAt = seenAt
	}
	if !p.HasFace(faceID) {
		p.FaceIDs = append(p.FaceIDs, faceID)
		m.faceOwner[faceID] = personID
	}
	return nil
}

func (m *memStore) MergePersons(_ context.Context, dstID, srcID uuid.UUID) (*models.Person, error) {
	dst, src := m.persons[dstID], m.persons[srcID]
	if dst == nil || src == nil {
		return nil, nil
	}
	if dstID == srcID {
		return dst, nil
	}
	for _, f := range src.FaceIDs {
		if !dst.HasFace(f) {
			dst.FaceIDs = append(dst.FaceIDs, f)
		}
		m.faceOwner[f] = dstID
	}
	if src.LastSeenAt.After(dst.LastSeenAt) {
		dst.LastSeenAt = src.LastSeenAt
	}
	delete(m.persons, srcID)
	return dst, nil
}

func (m *memStore) BatchOutcomes(_ context.Context, token string) ([]models.IngestOutcome, error) {
	return m.ledger[token], nil
}

func (m *memStore) SaveBatchOutcomes(_ context.Context, token string, outcomes []models.IngestOutcome) error {
	m.ledger[token] = outcomes
	return nil
}

func appearanceEvent(camera string, at time.Time, d *models.FaceDecision) models.Event {
	return models.Event{
		ID:             models.DeriveEventID("srv-1", camera, at, models.EventTypeAppearance),
		SiteID:         "site-a",
		CameraID:       camera,
		SourceServerID: "srv-1",
		Type:           models.EventTypeAppearance,
		ObservedAt:     at,
		FaceDecision:   d,
	}
}

func TestIngestOutcomes(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, store)
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	good := appearanceEvent("cam-1", at, nil)
	malformed := good
	malformed.ID = uuid.New() // forged id fails validation

	outcomes, err := svc.Ingest(context.Background(), []models.Event{good, malformed, good}, "")
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, models.IngestAccepted, outcomes[0].Status)
	assert.Equal(t, models.IngestRejected, outcomes[1].Status)
	assert.NotEmpty(t, outcomes[1].Reason)
	assert.Equal(t, models.IngestDuplicate, outcomes[2].Status)
	assert.Equal(t, 1, store.inserts, "only the first copy is stored")
}

func TestIngestIdempotencyTokenReplays(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, store)
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	batch := []models.Event{appearanceEvent("cam-1", at, nil)}

	first, err := svc.Ingest(context.Background(), batch, "token-1")
	require.NoError(t, err)
	require.Equal(t, models.IngestAccepted, first[0].Status)

	replay, err := svc.Ingest(context.Background(), batch, "token-1")
	require.NoError(t, err)
	assert.Equal(t, first, replay, "replay returns the recorded outcomes")
	assert.Equal(t, 1, store.inserts, "replay must not reprocess")
}

func TestIngestSameFaceTwiceCreatesOnePerson(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, store)
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	batch := []models.Event{
		appearanceEvent("cam-1", at, &models.FaceDecision{Status: models.FaceIndexed, ExternalFaceID: "face-1"}),
		appearanceEvent("cam-2", at.Add(time.Minute), &models.FaceDecision{Status: models.FaceMatched, ExternalFaceID: "face-1", Confidence: 0.9}),
	}

	_, err := svc.Ingest(context.Background(), batch, "")
	require.NoError(t, err)

	require.Len(t, store.persons, 1)
	var person *models.Person
	for _, p := range store.persons {
		person = p
	}
	assert.Equal(t, at.Add(time.Minute), person.LastSeenAt)

	// Both stored events resolve to the same person.
	for _, ev := range store.events {
		require.NotNil(t, ev.FaceDecision.PersonID)
		assert.Equal(t, person.ID, *ev.FaceDecision.PersonID)
	}
}

func TestIngestAdoptsRaceWinner(t *testing.T) {
	store := newMemStore()
	winner, _, err := store.CreatePersonWithFace(context.Background(), uuid.New(), "face-1", time.Now())
	require.NoError(t, err)
	store.hidePersonLookup = true

	svc := NewService(store, store, store)
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	batch := []models.Event{
		appearanceEvent("cam-1", at, &models.FaceDecision{Status: models.FaceIndexed, ExternalFaceID: "face-1"}),
	}

	_, err = svc.Ingest(context.Background(), batch, "")
	require.NoError(t, err)

	require.Len(t, store.persons, 1, "losing the face claim must not create a second person")
	for _, ev := range store.events {
		require.NotNil(t, ev.FaceDecision.PersonID)
		assert.Equal(t, winner.ID, *ev.FaceDecision.PersonID)
	}
}

func TestAttachRecognitionGuard(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, store)
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	errored := appearanceEvent("cam-1", at, &models.FaceDecision{Status: models.FaceError, Error: "timeout"})
	resolved := appearanceEvent("cam-2", at, &models.FaceDecision{Status: models.FaceMatched, ExternalFaceID: "face-2", Confidence: 0.95})
	_, err := svc.Ingest(context.Background(), []models.Event{errored, resolved}, "")
	require.NoError(t, err)

	repair := &models.FaceDecision{Status: models.FaceIndexed, ExternalFaceID: "face-1"}
	ok, err := svc.AttachRecognition(context.Background(), errored.ID, repair)
	require.NoError(t, err)
	assert.True(t, ok, "an errored decision is repairable")

	overwrite := &models.FaceDecision{Status: models.FaceIndexed, ExternalFaceID: "face-3"}
	ok, err = svc.AttachRecognition(context.Background(), resolved.ID, overwrite)
	require.NoError(t, err)
	assert.False(t, ok, "a resolved decision is never overwritten")
	assert.Equal(t, "face-2", store.events[resolved.ID].FaceDecision.ExternalFaceID)
}

func TestMergePersonsCommutative(t *testing.T) {
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	seed := func(store *memStore) (a, b, c uuid.UUID) {
		a, b, c = uuid.New(), uuid.New(), uuid.New()
		_, _, err := store.CreatePersonWithFace(context.Background(), a, "face-a", at)
		require.NoError(t, err)
		_, _, err = store.CreatePersonWithFace(context.Background(), b, "face-b", at.Add(time.Minute))
		require.NoError(t, err)
		_, _, err = store.CreatePersonWithFace(context.Background(), c, "face-c", at.Add(2*time.Minute))
		require.NoError(t, err)
		return a, b, c
	}

	first := newMemStore()
	a, b, c := seed(first)
	svc := NewService(first, first, first)
	_, err := svc.MergePersons(context.Background(), b, a)
	require.NoError(t, err)
	viaB, err := svc.MergePersons(context.Background(), c, b)
	require.NoError(t, err)

	second := newMemStore()
	a, b, c = seed(second)
	svc = NewService(second, second, second)
	_, err = svc.MergePersons(context.Background(), c, a)
	require.NoError(t, err)
	direct, err := svc.MergePersons(context.Background(), c, b)
	require.NoError(t, err)

	assert.ElementsMatch(t, viaB.FaceIDs, direct.FaceIDs)
	assert.Equal(t, viaB.LastSeenAt, direct.LastSeenAt)
	require.Len(t, first.persons, 1)
	require.Len(t, second.persons, 1)
}

func TestMarkEvaluatedIdempotent(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, store)
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	ev := appearanceEvent("cam-1", at, nil)
	_, err := svc.Ingest(context.Background(), []models.Event{ev}, "")
	require.NoError(t, err)

	n, err := svc.MarkEvaluated(context.Background(), []uuid.UUID{ev.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = svc.MarkEvaluated(context.Background(), []uuid.UUID{ev.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "second stamp is a no-op")
}
