package transcribe

import (
	"strings"

	"github.com/securevox/stt-engine/internal/transcript"
)

// BoundaryToleranceMS bounds how far a later chunk's segment may reach back
// into already-retained audio before it is treated as a boundary duplicate.
const BoundaryToleranceMS = 200

// blankMarker is the literal whisper emits for stretches of silence.
const blankMarker = "[BLANK_AUDIO]"

// mergeChunks flattens per-chunk rebased segments into one ascending
// sequence. Chunks arrive in increasing start-offset order, so the result is
// ordered by construction.
//
// De-duplication policy: a segment from a later chunk that starts more than
// BoundaryToleranceMS before the end of the last segment retained from
// earlier chunks is a boundary duplicate of overlap audio. The earlier
// chunk's version wins unless its text is empty, in which case the later
// segment replaces it, with its start clamped so the merged sequence stays
// sorted by start. Segments within a single chunk are never compared
// against each other.
func mergeChunks(perChunk [][]transcript.Segment) []transcript.Segment {
	var merged []transcript.Segment
	for _, segments := range perChunk {
		cut := int64(-1)
		if len(merged) > 0 {
			cut = merged[len(merged)-1].End
		}
		for _, seg := range segments {
			if cut >= 0 && seg.Start+BoundaryToleranceMS < cut {
				if strings.TrimSpace(merged[len(merged)-1].Text) == "" {
					if n := len(merged); n > 1 && seg.Start < merged[n-2].Start {
						seg.Start = merged[n-2].Start
					}
					merged[len(merged)-1] = seg
				}
				continue
			}
			merged = append(merged, seg)
		}
	}
	return merged
}

// dropBlankMarkers removes whisper's silence markers. Genuinely empty text
// is preserved; only the literal marker is filtered.
func dropBlankMarkers(segments []transcript.Segment) []transcript.Segment {
	kept := segments[:0]
	for _, seg := range segments {
		if strings.EqualFold(strings.TrimSpace(seg.Text), blankMarker) {
			continue
		}
		kept = append(kept, seg)
	}
	return kept
}
