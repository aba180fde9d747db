package transcribe

import "github.com/securevox/stt-engine/internal/whisper"

// The engine's usable context window is bounded; longer audio is processed
// as overlapping windows and stitched back together. Adjacent windows share
// OverlapMS of audio so words cut at a hard boundary are not lost.
const (
	MaxChunkMS = 55_000
	OverlapMS  = 1_000
	StrideMS   = MaxChunkMS - OverlapMS
)

// Chunk is a window of the request buffer. Samples is a sub-slice of the
// original buffer, not a copy; StartMS is the window's absolute offset.
type Chunk struct {
	StartMS int64
	Samples []float32
}

// DurationMS reports the chunk length in milliseconds.
func (c Chunk) DurationMS() int64 {
	return whisper.SamplesToMS(len(c.Samples))
}

// PlanChunks computes the window plan for a buffer. Buffers no longer than
// MaxChunkMS map to a single chunk at offset 0; longer buffers produce
// windows starting every StrideMS until the whole buffer is covered,
// ceil((D-OverlapMS)/StrideMS) chunks in total. A window that would add
// nothing beyond the previous window's coverage is never emitted.
func PlanChunks(samples []float32) []Chunk {
	durationMS := whisper.SamplesToMS(len(samples))
	if durationMS <= MaxChunkMS {
		return []Chunk{{StartMS: 0, Samples: samples}}
	}

	var chunks []Chunk
	for startMS := int64(0); startMS+OverlapMS < durationMS; startMS += StrideMS {
		lengthMS := durationMS - startMS
		if lengthMS > MaxChunkMS {
			lengthMS = MaxChunkMS
		}
		lo := whisper.MSToSamples(startMS)
		hi := lo + whisper.MSToSamples(lengthMS)
		if hi > len(samples) {
			hi = len(samples)
		}
		chunks = append(chunks, Chunk{StartMS: startMS, Samples: samples[lo:hi]})
	}
	return chunks
}
