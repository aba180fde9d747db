package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/securevox/stt-engine/internal/transcript"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndLoadResult(t *testing.T) {
	db := openTestDB(t)

	segments := []transcript.Segment{
		{Text: "hello there", Start: 0, End: 1500},
		{Text: "general kenobi", Start: 1500, End: 3200},
	}
	tr := &Transcription{
		JobID:        "job-1",
		Language:     "en",
		ModelVariant: "base",
		DurationMS:   3200,
		SampleCount:  51200,
		ChunkCount:   1,
	}
	if err := db.SaveResult(tr, segments); err != nil {
		t.Fatalf("SaveResult returned error: %v", err)
	}
	if tr.ID == 0 {
		t.Fatal("SaveResult did not set ID")
	}

	got, err := db.Segments("job-1")
	if err != nil {
		t.Fatalf("Segments returned error: %v", err)
	}
	if len(got) != len(segments) {
		t.Fatalf("got %d segments, want %d", len(got), len(segments))
	}
	for i := range segments {
		if got[i] != segments[i] {
			t.Fatalf("segment %d: got %+v, want %+v", i, got[i], segments[i])
		}
	}
}

func TestSegmentsUnknownJob(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Segments("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestDuplicateJobIDRejected(t *testing.T) {
	db := openTestDB(t)
	tr := &Transcription{JobID: "dup", Language: "auto", ModelVariant: "base"}
	if err := db.SaveResult(tr, nil); err != nil {
		t.Fatalf("first SaveResult returned error: %v", err)
	}
	dup := &Transcription{JobID: "dup", Language: "auto", ModelVariant: "base"}
	if err := db.SaveResult(dup, nil); err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestRecentOrdering(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"a", "b", "c"} {
		tr := &Transcription{JobID: id, Language: "auto", ModelVariant: "base"}
		if err := db.SaveResult(tr, nil); err != nil {
			t.Fatalf("SaveResult(%s) returned error: %v", id, err)
		}
	}

	recent, err := db.Recent(2)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d rows, want 2", len(recent))
	}
	if recent[0].JobID != "c" || recent[1].JobID != "b" {
		t.Fatalf("unexpected order: %s, %s", recent[0].JobID, recent[1].JobID)
	}
}
