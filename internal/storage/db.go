// Package storage persists finished transcription results in a local
// SQLite database.
package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the database at path and initializes the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: enable foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: initialize schema: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	// The full transcript text is never stored; it is rebuilt from the
	// segment rows on read.
	schema := `
	CREATE TABLE IF NOT EXISTS transcriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,

		language TEXT NOT NULL,
		model_variant TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		sample_count INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS segments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transcription_id INTEGER NOT NULL REFERENCES transcriptions(id) ON DELETE CASCADE,
		idx INTEGER NOT NULL,
		text TEXT NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transcriptions_created_at ON transcriptions(created_at);
	CREATE INDEX IF NOT EXISTS idx_segments_transcription ON segments(transcription_id, idx);
	`

	_, err := db.conn.Exec(schema)
	return err
}
