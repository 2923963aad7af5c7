package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/sentinel/internal/config"
	"github.com/your-org/sentinel/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// --- Events ---

const eventColumns = `id, site_id, camera_id, source_server_id, type, observed_at, image_ref,
	face_status, face_person_id, face_external_id, face_confidence, face_error,
	payload, ingested_at, evaluated_at`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var (
		ev         models.Event
		faceStatus *string
		personID   *uuid.UUID
		externalID *string
		confidence *float64
		faceErr    *string
		ingestedAt time.Time
	)
	err := row.Scan(&ev.ID, &ev.SiteID, &ev.CameraID, &ev.SourceServerID, &ev.Type,
		&ev.ObservedAt, &ev.ImageRef,
		&faceStatus, &personID, &externalID, &confidence, &faceErr,
		&ev.Payload, &ingestedAt, &ev.EvaluatedAt)
	if err != nil {
		return nil, err
	}
	ev.IngestedAt = &ingestedAt
	if faceStatus != nil {
		d := &models.FaceDecision{Status: models.FaceStatus(*faceStatus), PersonID: personID}
		if externalID != nil {
			d.ExternalFaceID = *externalID
		}
		if confidence != nil {
			d.Confidence = *confidence
		}
		if faceErr != nil {
			d.Error = *faceErr
		}
		ev.FaceDecision = d
	}
	return &ev, nil
}

func faceColumns(d *models.FaceDecision) (status, externalID, faceErr *string, personID *uuid.UUID, confidence *float64) {
	if d == nil {
		return nil, nil, nil, nil, nil
	}
	st := string(d.Status)
	status = &st
	personID = d.PersonID
	if d.ExternalFaceID != "" {
		externalID = &d.ExternalFaceID
	}
	if d.Status == models.FaceMatched {
		confidence = &d.Confidence
	}
	if d.Error != "" {
		faceErr = &d.Error
	}
	return
}

// InsertEvent performs the dedup-aware upsert: an existing id is left
// untouched and reported as not created.
func (s *PostgresStore) InsertEvent(ctx context.Context, ev *models.Event) (bool, error) {
	status, externalID, faceErr, personID, confidence := faceColumns(ev.FaceDecision)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, site_id, camera_id, source_server_id, type, observed_at, image_ref,
			face_status, face_person_id, face_external_id, face_confidence, face_error, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.SiteID, ev.CameraID, ev.SourceServerID, ev.Type, ev.ObservedAt, ev.ImageRef,
		status, personID, externalID, confidence, faceErr, ev.Payload)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	ev, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// LatestObserved is the collector watermark source: the newest observed_at
// stored for a site and type, nil when nothing is stored yet.
func (s *PostgresStore) LatestObserved(ctx context.Context, siteID string, typ models.EventType) (*time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(observed_at) FROM events WHERE site_id = $1 AND type = $2`,
		siteID, typ).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("latest observed: %w", err)
	}
	return ts, nil
}

// FetchUnevaluated pages events with no evaluated_at, ordered by
// (observed_at, id) ascending. The composite cursor breaks timestamp ties
// deterministically.
func (s *PostgresStore) FetchUnevaluated(ctx context.Context, limit int, afterTS *time.Time, afterID *uuid.UUID) ([]models.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows pgx.Rows
	var err error
	if afterTS != nil && afterID != nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+eventColumns+` FROM events
			 WHERE evaluated_at IS NULL AND (observed_at, id) > ($1, $2)
			 ORDER BY observed_at, id LIMIT $3`,
			*afterTS, *afterID, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+eventColumns+` FROM events
			 WHERE evaluated_at IS NULL
			 ORDER BY observed_at, id LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch unevaluated: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]models.Event, error) {
	var events []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// MarkEvaluated stamps evaluated_at once per event. Re-marking is a no-op,
// which keeps the write-back contract idempotent.
func (s *PostgresStore) MarkEvaluated(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET evaluated_at = now() WHERE id = ANY($1) AND evaluated_at IS NULL`, ids)
	if err != nil {
		return 0, fmt.Errorf("mark evaluated: %w", err)
	}
	return tag.RowsAffected(), nil
}

// EventsNeedingRecognition returns appearance events with an image but no
// usable face decision, oldest first. ERROR decisions are retryable; NO_FACE
// is terminal.
func (s *PostgresStore) EventsNeedingRecognition(ctx context.Context, limit int) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE type = $1 AND image_ref <> ''
		   AND (face_status IS NULL OR face_status = $2)
		 ORDER BY observed_at LIMIT $3`,
		models.EventTypeAppearance, models.FaceError, limit)
	if err != nil {
		return nil, fmt.Errorf("events needing recognition: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// AttachFaceDecision fills an absent or errored decision. A MATCHED/INDEXED
// decision is never overwritten.
func (s *PostgresStore) AttachFaceDecision(ctx context.Context, id uuid.UUID, d *models.FaceDecision) (bool, error) {
	status, externalID, faceErr, personID, confidence := faceColumns(d)
	tag, err := s.pool.Exec(ctx,
		`UPDATE events
		 SET face_status = $2, face_person_id = $3, face_external_id = $4,
		     face_confidence = $5, face_error = $6
		 WHERE id = $1 AND (face_status IS NULL OR face_status = $7)`,
		id, status, personID, externalID, confidence, faceErr, models.FaceError)
	if err != nil {
		return false, fmt.Errorf("attach face decision: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// EventsNeedingMedia returns events without a stored frame, oldest first.
// An empty type matches every type.
func (s *PostgresStore) EventsNeedingMedia(ctx context.Context, typ models.EventType, limit int) ([]models.Event, error) {
	var rows pgx.Rows
	var err error
	if typ != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+eventColumns+` FROM events
			 WHERE type = $1 AND image_ref = ''
			 ORDER BY observed_at LIMIT $2`, typ, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+eventColumns+` FROM events
			 WHERE image_ref = ''
			 ORDER BY observed_at LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("events needing media: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *PostgresStore) AttachImageRef(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET image_ref = $2 WHERE id = $1 AND image_ref = ''`, id, ref)
	if err != nil {
		return false, fmt.Errorf("attach image ref: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// EventFilter narrows ListEvents. Zero values mean "any".
type EventFilter struct {
	SiteID   string
	Type     models.EventType
	PersonID *uuid.UUID
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

func (s *PostgresStore) ListEvents(ctx context.Context, f EventFilter) ([]models.Event, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}

	where := "WHERE true"
	args := []interface{}{}
	argIdx := 1

	if f.SiteID != "" {
		where += fmt.Sprintf(" AND site_id = $%d", argIdx)
		args = append(args, f.SiteID)
		argIdx++
	}
	if f.Type != "" {
		where += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, f.Type)
		argIdx++
	}
	if f.PersonID != nil {
		where += fmt.Sprintf(" AND face_person_id = $%d", argIdx)
		args = append(args, *f.PersonID)
		argIdx++
	}
	if f.From != nil {
		where += fmt.Sprintf(" AND observed_at >= $%d", argIdx)
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		where += fmt.Sprintf(" AND observed_at <= $%d", argIdx)
		args = append(args, *f.To)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	query := fmt.Sprintf("SELECT "+eventColumns+" FROM events %s ORDER BY observed_at DESC LIMIT $%d OFFSET $%d",
		where, argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	return events, total, err
}

// --- Persons ---

func (s *PostgresStore) GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	p := &models.Person{}
	err := s.pool.QueryRow(ctx,
		`SELECT p.id, p.created_at, p.last_seen_at,
		        COALESCE(array_agg(f.face_id ORDER BY f.face_id) FILTER (WHERE f.face_id IS NOT NULL), '{}')
		 FROM persons p LEFT JOIN person_faces f ON f.person_id = p.id
		 WHERE p.id = $1 GROUP BY p.id`, id,
	).Scan(&p.ID, &p.CreatedAt, &p.LastSeenAt, &p.FaceIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) PersonByFaceID(ctx context.Context, faceID string) (*models.Person, error) {
	var personID uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT person_id FROM person_faces WHERE face_id = $1`, faceID).Scan(&personID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("person by face: %w", err)
	}
	return s.GetPerson(ctx, personID)
}

func (s *PostgresStore) ListPersons(ctx context.Context, limit, offset int) ([]models.Person, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.created_at, p.last_seen_at,
		        COALESCE(array_agg(f.face_id ORDER BY f.face_id) FILTER (WHERE f.face_id IS NOT NULL), '{}')
		 FROM persons p LEFT JOIN person_faces f ON f.person_id = p.id
		 GROUP BY p.id ORDER BY p.last_seen_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.CreatedAt, &p.LastSeenAt, &p.FaceIDs); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

// CreatePersonWithFace creates a person seeded with one face. The primary key
// on person_faces.face_id is the compare-and-swap: when a concurrent writer
// already claimed the face, the transaction rolls back the new person and the
// existing owner is returned with created=false.
func (s *PostgresStore) CreatePersonWithFace(ctx context.Context, personID uuid.UUID, faceID string, seenAt time.Time) (*models.Person, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin create person: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO persons (id, last_seen_at) VALUES ($1, $2)`, personID, seenAt); err != nil {
		return nil, false, fmt.Errorf("insert person: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO person_faces (face_id, person_id) VALUES ($1, $2)
		 ON CONFLICT (face_id) DO NOTHING`, faceID, personID)
	if err != nil {
		return nil, false, fmt.Errorf("insert person face: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race: another writer owns this face.
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			return nil, false, fmt.Errorf("rollback create person: %w", err)
		}
		existing, err := s.PersonByFaceID(ctx, faceID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit create person: %w", err)
	}

	p, err := s.GetPerson(ctx, personID)
	return p, true, err
}

// TouchPerson records a sighting: last_seen_at only moves forward and the
// face mapping is unioned in.
func (s *PostgresStore) TouchPerson(ctx context.Context, personID uuid.UUID, faceID string, seenAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin touch person: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE persons SET last_seen_at = GREATEST(last_seen_at, $2) WHERE id = $1`,
		personID, seenAt); err != nil {
		return fmt.Errorf("touch person: %w", err)
	}
	if faceID != "" {
		if _, err := tx.Exec(ctx,
			`INSERT INTO person_faces (face_id, person_id) VALUES ($1, $2)
			 ON CONFLICT (face_id) DO NOTHING`, faceID, personID); err != nil {
			return fmt.Errorf("union person face: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// MergePersons folds src into dst: strict union of faces, max of last_seen_at,
// src removed. Merging the same pair again is a no-op.
func (s *PostgresStore) MergePersons(ctx context.Context, dstID, srcID uuid.UUID) (*models.Person, error) {
	if dstID == srcID {
		return s.GetPerson(ctx, dstID)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE persons SET last_seen_at = GREATEST(last_seen_at,
			COALESCE((SELECT last_seen_at FROM persons WHERE id = $2), last_seen_at))
		 WHERE id = $1`, dstID, srcID); err != nil {
		return nil, fmt.Errorf("merge last seen: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE person_faces SET person_id = $1 WHERE person_id = $2`, dstID, srcID); err != nil {
		return nil, fmt.Errorf("merge faces: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE events SET face_person_id = $1 WHERE face_person_id = $2`, dstID, srcID); err != nil {
		return nil, fmt.Errorf("merge event references: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM persons WHERE id = $1`, srcID); err != nil {
		return nil, fmt.Errorf("remove merged person: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit merge: %w", err)
	}
	return s.GetPerson(ctx, dstID)
}

// --- Rules ---

func (s *PostgresStore) CreateRule(ctx context.Context, r *models.Rule) error {
	r.ID = uuid.New()
	var freq []byte
	if r.Frequency != nil {
		b, err := json.Marshal(r.Frequency)
		if err != nil {
			return fmt.Errorf("marshal frequency spec: %w", err)
		}
		freq = b
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO rules (id, name, enabled, kind, expression, frequency, severity)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		r.ID, r.Name, r.Enabled, r.Kind, r.Expression, freq, r.Severity,
	).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRules(ctx context.Context, enabledOnly bool) ([]models.Rule, error) {
	query := `SELECT id, name, enabled, kind, expression, frequency, severity, created_at FROM rules`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var r models.Rule
		var freq []byte
		if err := rows.Scan(&r.ID, &r.Name, &r.Enabled, &r.Kind, &r.Expression, &freq, &r.Severity, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if len(freq) > 0 {
			r.Frequency = &models.FrequencySpec{}
			if err := json.Unmarshal(freq, r.Frequency); err != nil {
				return nil, fmt.Errorf("unmarshal frequency spec: %w", err)
			}
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *PostgresStore) SetRuleEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE rules SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("set rule enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule not found")
	}
	return nil
}

// --- Anomaly reports ---

// CreateReports writes a batch of reports in one transaction: the engine's
// REPORTING step is all-or-nothing per page.
func (s *PostgresStore) CreateReports(ctx context.Context, reports []models.AnomalyReport) error {
	if len(reports) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create reports: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range reports {
		r := &reports[i]
		if _, err := tx.Exec(ctx,
			`INSERT INTO anomaly_reports (id, rule_id, person_id, event_ids, severity, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.RuleID, r.PersonID, r.EventIDs, r.Severity, r.Status, r.CreatedAt); err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListReports(ctx context.Context, status models.ReportStatus, limit, offset int) ([]models.AnomalyReport, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, rule_id, person_id, event_ids, severity, status, created_at FROM anomaly_reports`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []models.AnomalyReport
	for rows.Next() {
		var r models.AnomalyReport
		if err := rows.Scan(&r.ID, &r.RuleID, &r.PersonID, &r.EventIDs, &r.Severity, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// UpdateReportStatus moves the review status. Event ids and severity are
// immutable; corrections are new reports.
func (s *PostgresStore) UpdateReportStatus(ctx context.Context, id uuid.UUID, status models.ReportStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE anomaly_reports SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update report status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("report not found")
	}
	return nil
}

// --- Batch idempotency tokens ---

func (s *PostgresStore) BatchOutcomes(ctx context.Context, token string) ([]models.IngestOutcome, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT outcomes FROM ingest_batches WHERE token = $1`, token).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("batch outcomes: %w", err)
	}
	var outcomes []models.IngestOutcome
	if err := json.Unmarshal(raw, &outcomes); err != nil {
		return nil, fmt.Errorf("unmarshal batch outcomes: %w", err)
	}
	return outcomes, nil
}

func (s *PostgresStore) SaveBatchOutcomes(ctx context.Context, token string, outcomes []models.IngestOutcome) error {
	raw, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("marshal batch outcomes: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_batches (token, outcomes) VALUES ($1, $2)
		 ON CONFLICT (token) DO NOTHING`, token, raw); err != nil {
		return fmt.Errorf("save batch outcomes: %w", err)
	}
	return nil
}
