// Package transcript defines the segment types produced by the engine
// boundary and the codec for the exchange payload that crosses it.
package transcript

import "strings"

// RawSegment is one recognized span as emitted by the engine for a single
// chunk. Start and End are milliseconds relative to the start of that chunk.
type RawSegment struct {
	Text  string `json:"text"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

// Segment is one recognized span after rebasing. Start and End are
// milliseconds relative to the start of the original audio buffer.
type Segment struct {
	Text  string `json:"text"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

// Rebase shifts a chunk-relative segment by the chunk's absolute start offset.
func (r RawSegment) Rebase(offsetMS int64) Segment {
	return Segment{
		Text:  r.Text,
		Start: r.Start + offsetMS,
		End:   r.End + offsetMS,
	}
}

// JoinText derives the full transcript from an ordered segment sequence.
// Empty segments contribute nothing; the rest are joined with single spaces.
// The joined form is never stored, it is always recomputed from segments.
func JoinText(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}
