package storage

// Schema is applied at startup by EnsureSchema. The unique constraints carry
// the hard invariants: events.id is the dedup key, person_faces.face_id is
// the compare-and-swap point that prevents two persons for one face.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id               UUID PRIMARY KEY,
	site_id          TEXT NOT NULL,
	camera_id        TEXT NOT NULL,
	source_server_id TEXT NOT NULL,
	type             TEXT NOT NULL,
	observed_at      TIMESTAMPTZ NOT NULL,
	image_ref        TEXT NOT NULL DEFAULT '',
	face_status      TEXT,
	face_person_id   UUID,
	face_external_id TEXT,
	face_confidence  DOUBLE PRECISION,
	face_error       TEXT,
	payload          JSONB,
	ingested_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	evaluated_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS events_unevaluated_idx
	ON events (observed_at, id) WHERE evaluated_at IS NULL;
CREATE INDEX IF NOT EXISTS events_site_type_observed_idx
	ON events (site_id, type, observed_at DESC);
CREATE INDEX IF NOT EXISTS events_face_person_idx
	ON events (face_person_id) WHERE face_person_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS persons (
	id           UUID PRIMARY KEY,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS person_faces (
	face_id    TEXT PRIMARY KEY,
	person_id  UUID NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS person_faces_person_idx ON person_faces (person_id);

CREATE TABLE IF NOT EXISTS rules (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	enabled    BOOLEAN NOT NULL DEFAULT true,
	kind       TEXT NOT NULL,
	expression TEXT NOT NULL DEFAULT '',
	frequency  JSONB,
	severity   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS anomaly_reports (
	id         UUID PRIMARY KEY,
	rule_id    UUID NOT NULL,
	person_id  UUID,
	event_ids  UUID[] NOT NULL,
	severity   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'OPEN',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS anomaly_reports_created_idx ON anomaly_reports (created_at DESC);

CREATE TABLE IF NOT EXISTS ingest_batches (
	token      TEXT PRIMARY KEY,
	outcomes   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
