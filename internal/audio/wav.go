// Package audio decodes WAV input into the sample format the
// transcription engine consumes.
package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"

	"github.com/securevox/stt-engine/internal/whisper"
)

// SampleRate is the only input rate the engine accepts. Callers are
// expected to resample before handing audio over.
const SampleRate = whisper.SampleRate

var ErrUnsupportedFormat = errors.New("audio: unsupported wav format")

// DecodeWAV reads a PCM WAV stream and returns mono float32 samples
// normalized to [-1, 1]. Multi-channel input is downmixed by averaging.
func DecodeWAV(r io.ReadSeeker) ([]float32, error) {
	d := wav.NewDecoder(r)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, ErrUnsupportedFormat
	}
	if buf.Format.SampleRate != SampleRate {
		return nil, fmt.Errorf("%w: sample rate %d, want %d",
			ErrUnsupportedFormat, buf.Format.SampleRate, SampleRate)
	}

	// AsFloat32Buffer keeps integer magnitudes, so scale by bit depth
	// ourselves.
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float32(channels)
	}
	return samples, nil
}
