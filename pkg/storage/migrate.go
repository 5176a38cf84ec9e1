package storage

import "fmt"

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// migrate applies schema migrations based on PRAGMA user_version.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading user_version: %w", err)
	}

	if version < 1 {
		if _, err := s.db.Exec(schemaV1); err != nil {
			return fmt.Errorf("applying schema v1: %w", err)
		}
		if _, err := s.db.Exec(ftsTriggersV1); err != nil {
			return fmt.Errorf("applying fts triggers: %w", err)
		}
		if _, err := s.db.Exec("PRAGMA user_version = 1"); err != nil {
			return fmt.Errorf("setting user_version: %w", err)
		}
	}

	return nil
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	project_path      TEXT NOT NULL,
	started_at        TEXT NOT NULL,
	ended_at          TEXT,
	status            TEXT NOT NULL DEFAULT 'active',
	observation_count INTEGER NOT NULL DEFAULT 0,
	summary_id        TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_path, started_at DESC);

CREATE TABLE IF NOT EXISTS observations (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL REFERENCES sessions(id),
	scope            TEXT NOT NULL DEFAULT 'project',
	type             TEXT NOT NULL,
	title            TEXT NOT NULL,
	subtitle         TEXT,
	narrative        TEXT NOT NULL DEFAULT '',
	facts            TEXT NOT NULL DEFAULT '[]',
	concepts         TEXT NOT NULL DEFAULT '[]',
	files_read       TEXT NOT NULL DEFAULT '[]',
	files_modified   TEXT NOT NULL DEFAULT '[]',
	raw_tool_output  TEXT,
	tool_name        TEXT,
	created_at       TEXT NOT NULL,
	token_count      INTEGER NOT NULL DEFAULT 0,
	discovery_tokens INTEGER NOT NULL DEFAULT 0,
	importance       INTEGER NOT NULL DEFAULT 3,
	revision_of      TEXT,
	superseded_by    TEXT,
	superseded_at    TEXT,
	deleted_at       TEXT,
	embedding        BLOB
);

CREATE INDEX IF NOT EXISTS idx_obs_session ON observations(session_id);
CREATE INDEX IF NOT EXISTS idx_obs_type    ON observations(type);
CREATE INDEX IF NOT EXISTS idx_obs_created ON observations(created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_obs_active  ON observations(created_at DESC)
	WHERE superseded_by IS NULL AND deleted_at IS NULL;

CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
	title,
	subtitle,
	narrative,
	facts,
	concepts,
	files_read,
	files_modified,
	content='observations',
	content_rowid='rowid'
);

CREATE TABLE IF NOT EXISTS session_summaries (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL REFERENCES sessions(id),
	summary        TEXT NOT NULL,
	key_decisions  TEXT NOT NULL DEFAULT '[]',
	files_modified TEXT NOT NULL DEFAULT '[]',
	concepts       TEXT NOT NULL DEFAULT '[]',
	request        TEXT,
	investigated   TEXT,
	learned        TEXT,
	completed      TEXT,
	next_steps     TEXT,
	token_count    INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_summaries_session ON session_summaries(session_id);

CREATE TABLE IF NOT EXISTS pending_messages (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	tool_name   TEXT NOT NULL,
	tool_output TEXT NOT NULL,
	call_id     TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	claimed_at  TEXT,
	status      TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	error       TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_pending_call ON pending_messages(session_id, call_id);
CREATE INDEX IF NOT EXISTS idx_pending_status ON pending_messages(status, created_at);

CREATE TABLE IF NOT EXISTS entities (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	type        TEXT NOT NULL,
	name        TEXT NOT NULL,
	name_norm   TEXT NOT NULL,
	description TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_type_name ON entities(type, name_norm);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name_norm);

CREATE TABLE IF NOT EXISTS relationships (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	from_entity    INTEGER NOT NULL REFERENCES entities(id),
	to_entity      INTEGER NOT NULL REFERENCES entities(id),
	type           TEXT NOT NULL,
	observation_id TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_rel_unique
	ON relationships(from_entity, to_entity, type, observation_id);
CREATE INDEX IF NOT EXISTS idx_rel_from ON relationships(from_entity);
CREATE INDEX IF NOT EXISTS idx_rel_to   ON relationships(to_entity);

CREATE TABLE IF NOT EXISTS vec_observations (
	rowid  INTEGER PRIMARY KEY AUTOINCREMENT,
	obs_id TEXT NOT NULL UNIQUE
);
`

// ftsTriggersV1 keeps the external-content FTS index in sync with the
// observations table. Only active rows are indexed: tombstoned and
// superseded rows vanish from full-text results.
const ftsTriggersV1 = `
CREATE TRIGGER IF NOT EXISTS obs_fts_insert AFTER INSERT ON observations
WHEN new.superseded_by IS NULL AND new.deleted_at IS NULL
BEGIN
	INSERT INTO observations_fts(rowid, title, subtitle, narrative, facts, concepts, files_read, files_modified)
	VALUES (new.rowid, new.title, new.subtitle, new.narrative, new.facts, new.concepts, new.files_read, new.files_modified);
END;

CREATE TRIGGER IF NOT EXISTS obs_fts_delete AFTER DELETE ON observations
WHEN old.superseded_by IS NULL AND old.deleted_at IS NULL
BEGIN
	INSERT INTO observations_fts(observations_fts, rowid, title, subtitle, narrative, facts, concepts, files_read, files_modified)
	VALUES ('delete', old.rowid, old.title, old.subtitle, old.narrative, old.facts, old.concepts, old.files_read, old.files_modified);
END;

CREATE TRIGGER IF NOT EXISTS obs_fts_update_del AFTER UPDATE ON observations
WHEN (old.superseded_by IS NULL AND old.deleted_at IS NULL)
	AND NOT (new.superseded_by IS NULL AND new.deleted_at IS NULL)
BEGIN
	INSERT INTO observations_fts(observations_fts, rowid, title, subtitle, narrative, facts, concepts, files_read, files_modified)
	VALUES ('delete', old.rowid, old.title, old.subtitle, old.narrative, old.facts, old.concepts, old.files_read, old.files_modified);
END;
`
