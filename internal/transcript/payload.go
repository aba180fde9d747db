package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedPayload marks an exchange payload that is structurally invalid.
// A malformed payload fails the whole chunk; there are no partial decodes.
var ErrMalformedPayload = errors.New("transcript: malformed payload")

// payloadSegment mirrors the wire shape. The wrapper serialises timestamps as
// JSON numbers that may carry a fractional part; the native unit conversion
// (centiseconds to milliseconds) already happened on the other side of the
// boundary, so decoding performs no scaling of its own.
type payloadSegment struct {
	Text  *string  `json:"text"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

// DecodePayload parses the engine's exchange payload, a JSON array of
// {text, start, end} records with timestamps in milliseconds. Empty text is
// valid and preserved.
func DecodePayload(data []byte) ([]RawSegment, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var records []payloadSegment
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after segment array", ErrMalformedPayload)
	}

	segments := make([]RawSegment, 0, len(records))
	for i, rec := range records {
		if rec.Text == nil || rec.Start == nil || rec.End == nil {
			return nil, fmt.Errorf("%w: record %d is missing a field", ErrMalformedPayload, i)
		}
		segments = append(segments, RawSegment{
			Text:  *rec.Text,
			Start: roundMS(*rec.Start),
			End:   roundMS(*rec.End),
		})
	}
	return segments, nil
}

// EncodePayload renders segments in the exchange payload format. The native
// wrapper produces this by hand; the stub runtime and tests produce it here.
func EncodePayload(segments []RawSegment) ([]byte, error) {
	if segments == nil {
		segments = []RawSegment{}
	}
	return json.Marshal(segments)
}

func roundMS(v float64) int64 {
	return int64(math.Round(v))
}
