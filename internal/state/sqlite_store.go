package state

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

// sqliteSchema mirrors the postgres migrations with sqlite types.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
    id               TEXT PRIMARY KEY,
    owner            TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL,
    error_text       TEXT NOT NULL DEFAULT '',
    overall_progress INTEGER NOT NULL DEFAULT 0,
    config_json      TEXT NOT NULL DEFAULT '{}',
    audio_ref        TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMP NOT NULL,
    updated_at       TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS job_stages (
    job_id             TEXT NOT NULL,
    name               TEXT NOT NULL,
    status             TEXT NOT NULL,
    progress           INTEGER NOT NULL DEFAULT 0,
    attempts           INTEGER NOT NULL DEFAULT 0,
    transient_failures INTEGER NOT NULL DEFAULT 0,
    error_text         TEXT NOT NULL DEFAULT '',
    duration_millis    INTEGER NOT NULL DEFAULT 0,
    updated_at         TIMESTAMP NOT NULL,
    PRIMARY KEY (job_id, name)
);
CREATE TABLE IF NOT EXISTS meetings (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id              TEXT NOT NULL UNIQUE,
    owner               TEXT NOT NULL DEFAULT '',
    transcript          TEXT NOT NULL DEFAULT '',
    summary_english     TEXT NOT NULL DEFAULT '',
    summary_original    TEXT NOT NULL DEFAULT '',
    user_input          TEXT NOT NULL DEFAULT '',
    query_result_json   TEXT NOT NULL DEFAULT '',
    calendar_synced     BOOLEAN NOT NULL DEFAULT FALSE,
    audio_duration_sec  INTEGER NOT NULL DEFAULT 0,
    processing_time_sec INTEGER NOT NULL DEFAULT 0,
    created_at          TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS meeting_items (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    meeting_id INTEGER NOT NULL,
    kind       TEXT NOT NULL,
    data_json  TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_meetings_owner_created ON meetings (owner, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_meeting_items_meeting ON meeting_items (meeting_id);
`

type SQLiteStore struct {
	*sqlStore
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single writer keeps sqlite's locking simple.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore: &sqlStore{db: db}}, nil
}
