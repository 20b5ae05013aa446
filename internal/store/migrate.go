package store

import (
	"context"
	"fmt"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	steps := []struct {
		name   string
		schema string
	}{
		{"world_sessions", schemaWorldSessions},
		{"events", schemaEvents},
		{"identities", schemaIdentities},
		{"encounters", schemaEncounters},
		{"parse_failures", schemaParseFailures},
	}

	for _, step := range steps {
		if _, err := s.db.ExecContext(ctx, step.schema); err != nil {
			return fmt.Errorf("create %s table: %w", step.name, err)
		}
	}
	return nil
}

const schemaWorldSessions = `
CREATE TABLE IF NOT EXISTS world_sessions (
	id          TEXT PRIMARY KEY,
	world_id    TEXT NOT NULL,
	world_name  TEXT NOT NULL,
	instance_id TEXT,
	joined_at   TEXT NOT NULL,
	left_at     TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_joined ON world_sessions(joined_at);
CREATE INDEX IF NOT EXISTS idx_sessions_world ON world_sessions(world_id, joined_at);
`

const schemaEvents = `
CREATE TABLE IF NOT EXISTS events (
	id             INTEGER PRIMARY KEY,
	ts             TEXT NOT NULL,
	type           TEXT NOT NULL CHECK (type IN ('session_open','session_close','player_join','player_left')),
	session_id     TEXT NOT NULL REFERENCES world_sessions(id),
	player_name    TEXT,
	player_id      TEXT,
	world_id       TEXT,
	world_name     TEXT,
	instance_id    TEXT,
	dedupe_key     TEXT NOT NULL,
	ingested_at    TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	UNIQUE(dedupe_key)
);

CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(type, ts);
CREATE INDEX IF NOT EXISTS idx_events_ts_id ON events(ts, id);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, ts);
`

const schemaIdentities = `
CREATE TABLE IF NOT EXISTS identities (
	player_id       TEXT PRIMARY KEY,
	display_name    TEXT NOT NULL,
	tags_json       TEXT NOT NULL DEFAULT '[]',
	tier            TEXT NOT NULL DEFAULT 'unknown',
	flagged         INTEGER NOT NULL DEFAULT 0,
	first_seen      TEXT NOT NULL,
	last_updated    TEXT NOT NULL,
	encounter_count INTEGER NOT NULL DEFAULT 0
);
`

const schemaEncounters = `
CREATE TABLE IF NOT EXISTS encounters (
	id         INTEGER PRIMARY KEY,
	player_id  TEXT NOT NULL REFERENCES identities(player_id),
	session_id TEXT NOT NULL REFERENCES world_sessions(id),
	direction  TEXT NOT NULL CHECK (direction IN ('joined','left')),
	ts         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_encounters_player ON encounters(player_id, ts);
CREATE INDEX IF NOT EXISTS idx_encounters_session ON encounters(session_id);
`

const schemaParseFailures = `
CREATE TABLE IF NOT EXISTS parse_failures (
	id         INTEGER PRIMARY KEY,
	raw_line   TEXT NOT NULL,
	error_msg  TEXT,
	created_at TEXT NOT NULL,
	UNIQUE(raw_line)
);
`
