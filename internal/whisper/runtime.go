// Package whisper is the engine boundary. A Runtime mirrors the surface of
// the native whisper_wrapper library: init/free a model context, run one
// blocking transcription over float32 PCM, and introspect the build. The
// native implementation is compiled in with the whisperwrapper build tag;
// without it only the stub runtime is available.
package whisper

import (
	"errors"
	"fmt"
)

// Handle is an opaque reference to a loaded native model context. The zero
// value is never a valid handle. Handles are owned by the model manager and
// must not be used after Free.
type Handle uintptr

// ErrRuntimeUnavailable indicates the native backend is not compiled in.
var ErrRuntimeUnavailable = errors.New("whisper: native runtime unavailable")

// RuntimeError is a failure reported by the native wrapper, carrying the
// message retrieved immediately after the failing call. There is no shared
// last-error state on the Go side; every failed call gets its own value.
type RuntimeError struct {
	Op  string
	Msg string
}

func (e *RuntimeError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("whisper: %s failed", e.Op)
	}
	return fmt.Sprintf("whisper: %s failed: %s", e.Op, e.Msg)
}

// Runtime abstracts the native speech engine.
//
// Transcribe blocks until the engine finishes the given samples and returns
// the exchange payload: a JSON array of {text, start, end} records with
// timestamps already converted to milliseconds by the wrapper. The samples
// slice is read-only to the engine and remains owned by the caller; the
// returned payload is a Go copy, the native allocation is released before
// Transcribe returns. onProgress, when non-nil, is called zero or more times
// with a non-decreasing percent in [0,100] and never after Transcribe
// returns.
//
// Implementations do not serialise calls; the model manager guarantees at
// most one Transcribe per handle at any instant.
type Runtime interface {
	Init(modelPath string) (Handle, error)
	Free(h Handle)
	Transcribe(h Handle, samples []float32, language string, onProgress func(percent int)) ([]byte, error)
	IsMultilingual(h Handle) bool
	SystemInfo() string
}
