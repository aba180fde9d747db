package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/securevox/stt-engine/internal/transcript"
)

var ErrNotFound = errors.New("storage: transcription not found")

// Transcription is one finished job with its timing metadata.
type Transcription struct {
	ID           int64
	JobID        string
	CreatedAt    time.Time
	Language     string
	ModelVariant string
	DurationMS   int64
	SampleCount  int64
	ChunkCount   int
}

// SaveResult inserts a transcription and its segments in one transaction.
func (db *DB) SaveResult(tr *Transcription, segments []transcript.Segment) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO transcriptions (job_id, language, model_variant, duration_ms, sample_count, chunk_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tr.JobID, tr.Language, tr.ModelVariant, tr.DurationMS, tr.SampleCount, tr.ChunkCount,
	)
	if err != nil {
		return fmt.Errorf("storage: insert transcription: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("storage: last insert id: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO segments (transcription_id, idx, text, start_ms, end_ms)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage: prepare segment insert: %w", err)
	}
	defer stmt.Close()

	for i, seg := range segments {
		if _, err := stmt.Exec(id, i, seg.Text, seg.Start, seg.End); err != nil {
			return fmt.Errorf("storage: insert segment %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	tr.ID = id
	return nil
}

// Segments returns the stored segments for a job in transcript order.
func (db *DB) Segments(jobID string) ([]transcript.Segment, error) {
	var id int64
	err := db.conn.QueryRow(`SELECT id FROM transcriptions WHERE job_id = ?`, jobID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: look up transcription: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT text, start_ms, end_ms FROM segments
		WHERE transcription_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, fmt.Errorf("storage: query segments: %w", err)
	}
	defer rows.Close()

	var segments []transcript.Segment
	for rows.Next() {
		var seg transcript.Segment
		if err := rows.Scan(&seg.Text, &seg.Start, &seg.End); err != nil {
			return nil, fmt.Errorf("storage: scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// Recent returns the newest transcriptions, most recent first.
func (db *DB) Recent(limit int) ([]Transcription, error) {
	rows, err := db.conn.Query(`
		SELECT id, job_id, created_at, language, model_variant, duration_ms, sample_count, chunk_count
		FROM transcriptions
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query transcriptions: %w", err)
	}
	defer rows.Close()

	var out []Transcription
	for rows.Next() {
		var tr Transcription
		err := rows.Scan(&tr.ID, &tr.JobID, &tr.CreatedAt, &tr.Language,
			&tr.ModelVariant, &tr.DurationMS, &tr.SampleCount, &tr.ChunkCount)
		if err != nil {
			return nil, fmt.Errorf("storage: scan transcription: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
