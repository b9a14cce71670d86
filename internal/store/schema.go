package store

// Schema changes must stay additive and backward-compatible; the layer never
// drops a column's data.
const schema = `
CREATE TABLE IF NOT EXISTS postings (
	identity_key        TEXT PRIMARY KEY,
	source_id           TEXT NOT NULL,
	source_native_id    TEXT NOT NULL,
	content_fingerprint TEXT NOT NULL,
	title               TEXT NOT NULL,
	company             TEXT NOT NULL DEFAULT '',
	location            TEXT NOT NULL DEFAULT '',
	remote              INTEGER NOT NULL DEFAULT 0,
	url                 TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	salary_min          REAL,
	salary_max          REAL,
	posted_at           INTEGER,
	first_seen_at       INTEGER NOT NULL,
	last_seen_at        INTEGER NOT NULL,
	score               REAL,
	score_breakdown     TEXT,
	repost_count        INTEGER NOT NULL DEFAULT 0,
	superseded_by       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_postings_fingerprint ON postings(content_fingerprint);
CREATE INDEX IF NOT EXISTS idx_postings_score ON postings(score) WHERE score IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_postings_last_seen ON postings(last_seen_at);

CREATE TABLE IF NOT EXISTS source_health (
	source_id             TEXT PRIMARY KEY,
	state                 TEXT NOT NULL,
	consecutive_failures  INTEGER NOT NULL DEFAULT 0,
	last_success_at       INTEGER,
	last_failure_at       INTEGER,
	last_failure_reason   TEXT NOT NULL DEFAULT '',
	credential_expires_at INTEGER
);

CREATE TABLE IF NOT EXISTS runs (
	run_id                      TEXT PRIMARY KEY,
	started_at                  INTEGER NOT NULL,
	finished_at                 INTEGER,
	sources_attempted           INTEGER NOT NULL DEFAULT 0,
	sources_succeeded           INTEGER NOT NULL DEFAULT 0,
	jobs_ingested               INTEGER NOT NULL DEFAULT 0,
	jobs_deduped                INTEGER NOT NULL DEFAULT 0,
	jobs_scored_above_threshold INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
