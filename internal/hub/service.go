// Package hub owns the ingestion contract: dedup by event id, per-item batch
// outcomes, and person identity maintenance driven by face decisions.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sentinel/internal/models"
	"github.com/your-org/sentinel/internal/observability"
)

// EventStore is the slice of the document store the ingestion service needs.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *models.Event) (created bool, err error)
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	AttachFaceDecision(ctx context.Context, id uuid.UUID, d *models.FaceDecision) (bool, error)
	MarkEvaluated(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// PersonStore applies identity mutations. CreatePersonWithFace must be a
// compare-and-swap on the face id: when the face is already owned, the
// existing person is returned with created=false.
type PersonStore interface {
	PersonByFaceID(ctx context.Context, faceID string) (*models.Person, error)
	CreatePersonWithFace(ctx context.Context, personID uuid.UUID, faceID string, seenAt time.Time) (*models.Person, bool, error)
	TouchPerson(ctx context.Context, personID uuid.UUID, faceID string, seenAt time.Time) error
	MergePersons(ctx context.Context, dstID, srcID uuid.UUID) (*models.Person, error)
}

// BatchLedger replays the outcomes of a previously acknowledged batch when a
// collector resubmits the same idempotency token.
type BatchLedger interface {
	BatchOutcomes(ctx context.Context, token string) ([]models.IngestOutcome, error)
	SaveBatchOutcomes(ctx context.Context, token string, outcomes []models.IngestOutcome) error
}

type Service struct {
	events  EventStore
	persons PersonStore
	ledger  BatchLedger
	faceMu  *keyedMutex
}

func NewService(events EventStore, persons PersonStore, ledger BatchLedger) *Service {
	return &Service{
		events:  events,
		persons: persons,
		ledger:  ledger,
		faceMu:  newKeyedMutex(),
	}
}

// Ingest processes one batch. Outcomes are per item: a malformed record is
// REJECTED without failing its batch, a known id is a DUPLICATE no-op
// success. The error return is reserved for store-level failures that must
// abort the whole submission (the collector keeps its watermark in that
// case).
func (s *Service) Ingest(ctx context.Context, events []models.Event, idempotencyToken string) ([]models.IngestOutcome, error) {
	if idempotencyToken != "" && s.ledger != nil {
		cached, err := s.ledger.BatchOutcomes(ctx, idempotencyToken)
		if err != nil {
			return nil, fmt.Errorf("lookup batch token: %w", err)
		}
		if cached != nil {
			slog.Info("replaying acknowledged batch", "token", idempotencyToken, "items", len(cached))
			return cached, nil
		}
	}

	outcomes := make([]models.IngestOutcome, 0, len(events))
	for i := range events {
		ev := &events[i]
		outcome, err := s.ingestOne(ctx, ev)
		if err != nil {
			return nil, err
		}
		observability.EventsIngested.WithLabelValues(string(outcome.Status)).Inc()
		if outcome.Status == models.IngestRejected {
			slog.Warn("rejected event", "event_id", outcome.EventID, "reason", outcome.Reason)
		}
		outcomes = append(outcomes, outcome)
	}

	if idempotencyToken != "" && s.ledger != nil {
		if err := s.ledger.SaveBatchOutcomes(ctx, idempotencyToken, outcomes); err != nil {
			return nil, fmt.Errorf("record batch token: %w", err)
		}
	}
	return outcomes, nil
}

func (s *Service) ingestOne(ctx context.Context, ev *models.Event) (models.IngestOutcome, error) {
	if err := ev.Validate(); err != nil {
		return models.IngestOutcome{
			EventID: ev.ID,
			Status:  models.IngestRejected,
			Reason:  err.Error(),
		}, nil
	}

	if ev.FaceDecision.Identified() {
		if err := s.resolveIdentity(ctx, ev.FaceDecision, ev.ObservedAt); err != nil {
			return models.IngestOutcome{}, fmt.Errorf("resolve identity for %s: %w", ev.ID, err)
		}
	}

	created, err := s.events.InsertEvent(ctx, ev)
	if err != nil {
		return models.IngestOutcome{}, err
	}
	if !created {
		return models.IngestOutcome{EventID: ev.ID, Status: models.IngestDuplicate}, nil
	}
	return models.IngestOutcome{EventID: ev.ID, Status: models.IngestAccepted}, nil
}

// resolveIdentity binds the decision to a person, creating or touching one
// as needed. Serialized per external face id so racing INDEXED decisions for
// the same face collapse onto a single person.
func (s *Service) resolveIdentity(ctx context.Context, d *models.FaceDecision, observedAt time.Time) error {
	unlock := s.faceMu.Lock(d.ExternalFaceID)
	defer unlock()

	existing, err := s.persons.PersonByFaceID(ctx, d.ExternalFaceID)
	if err != nil {
		return err
	}

	mut := DecideMutation(existing, d, observedAt)
	switch mut.Op {
	case OpCreate:
		person, created, err := s.persons.CreatePersonWithFace(ctx, mut.PersonID, mut.FaceID, mut.SeenAt)
		if err != nil {
			return err
		}
		if created {
			observability.PersonsCreated.Inc()
		} else if person != nil {
			// Lost the cross-process race; adopt the winner and record the
			// sighting on it.
			if err := s.persons.TouchPerson(ctx, person.ID, mut.FaceID, mut.SeenAt); err != nil {
				return err
			}
		}
		if person != nil {
			d.PersonID = &person.ID
		}
	case OpTouch:
		if err := s.persons.TouchPerson(ctx, mut.PersonID, mut.FaceID, mut.SeenAt); err != nil {
			return err
		}
		pid := mut.PersonID
		d.PersonID = &pid
	}
	return nil
}

// AttachRecognition applies a re-enrichment result to a stored event. The
// guard in the store keeps a MATCHED/INDEXED decision from ever being
// overwritten.
func (s *Service) AttachRecognition(ctx context.Context, eventID uuid.UUID, d *models.FaceDecision) (bool, error) {
	if err := d.Validate(); err != nil {
		return false, err
	}

	ev, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return false, err
	}
	if ev == nil {
		return false, fmt.Errorf("event %s not found", eventID)
	}

	if d.Identified() {
		if err := s.resolveIdentity(ctx, d, ev.ObservedAt); err != nil {
			return false, err
		}
	}

	updated, err := s.events.AttachFaceDecision(ctx, eventID, d)
	if err != nil {
		return false, err
	}
	if updated {
		observability.FaceDecisions.WithLabelValues(string(d.Status)).Inc()
	}
	return updated, nil
}

// MarkEvaluated stamps the page. Idempotent and atomic per event.
func (s *Service) MarkEvaluated(ctx context.Context, ids []uuid.UUID) (int64, error) {
	n, err := s.events.MarkEvaluated(ctx, ids)
	if err != nil {
		return 0, err
	}
	observability.EventsEvaluated.Add(float64(n))
	return n, nil
}

// MergePersons folds src into dst (strict faceIds union, commutative and
// idempotent at the store level).
func (s *Service) MergePersons(ctx context.Context, dstID, srcID uuid.UUID) (*models.Person, error) {
	p, err := s.persons.MergePersons(ctx, dstID, srcID)
	if err != nil {
		return nil, err
	}
	observability.PersonMerges.Inc()
	return p, nil
}
