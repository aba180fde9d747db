package transcribe

import (
	"testing"

	"github.com/securevox/stt-engine/internal/whisper"
)

func samplesFor(ms int64) []float32 {
	return make([]float32, whisper.MSToSamples(ms))
}

func TestPlanChunksSingleWindow(t *testing.T) {
	for _, ms := range []int64{1, 1000, 12_500, 54_999, 55_000} {
		chunks := PlanChunks(samplesFor(ms))
		if len(chunks) != 1 {
			t.Fatalf("%dms: expected 1 chunk, got %d", ms, len(chunks))
		}
		if chunks[0].StartMS != 0 {
			t.Fatalf("%dms: expected start 0, got %d", ms, chunks[0].StartMS)
		}
		if chunks[0].DurationMS() != ms {
			t.Fatalf("%dms: chunk does not span buffer, got %dms", ms, chunks[0].DurationMS())
		}
	}
}

func TestPlanChunksLongBuffer(t *testing.T) {
	chunks := PlanChunks(samplesFor(180_000))

	wantStarts := []int64{0, 54_000, 108_000, 162_000}
	wantLengths := []int64{55_000, 55_000, 55_000, 18_000}
	if len(chunks) != len(wantStarts) {
		t.Fatalf("expected %d chunks, got %d", len(wantStarts), len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.StartMS != wantStarts[i] {
			t.Fatalf("chunk %d: expected start %d, got %d", i, wantStarts[i], chunk.StartMS)
		}
		if chunk.DurationMS() != wantLengths[i] {
			t.Fatalf("chunk %d: expected length %d, got %d", i, wantLengths[i], chunk.DurationMS())
		}
	}
}

func TestPlanChunksJustOverWindow(t *testing.T) {
	chunks := PlanChunks(samplesFor(56_000))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].DurationMS() != 55_000 {
		t.Fatalf("chunk 0: unexpected length %d", chunks[0].DurationMS())
	}
	if chunks[1].StartMS != 54_000 || chunks[1].DurationMS() != 2_000 {
		t.Fatalf("chunk 1: unexpected window %d+%d", chunks[1].StartMS, chunks[1].DurationMS())
	}
}

func TestPlanChunksCoverageAndOverlap(t *testing.T) {
	for _, ms := range []int64{55_001, 70_000, 108_999, 109_000, 240_000} {
		buf := samplesFor(ms)
		chunks := PlanChunks(buf)
		if chunks[0].StartMS != 0 {
			t.Fatalf("%dms: first chunk must start at 0", ms)
		}
		for i := 1; i < len(chunks); i++ {
			prev, cur := chunks[i-1], chunks[i]
			if cur.StartMS <= prev.StartMS {
				t.Fatalf("%dms: starts not strictly increasing", ms)
			}
			overlap := prev.StartMS + prev.DurationMS() - cur.StartMS
			if overlap < 0 {
				t.Fatalf("%dms: gap between chunks %d and %d", ms, i-1, i)
			}
			if overlap >= cur.DurationMS() {
				t.Fatalf("%dms: overlap %d not smaller than chunk length %d", ms, overlap, cur.DurationMS())
			}
		}
		last := chunks[len(chunks)-1]
		if last.StartMS+last.DurationMS() != whisper.SamplesToMS(len(buf)) {
			t.Fatalf("%dms: plan does not cover buffer end", ms)
		}
	}
}
