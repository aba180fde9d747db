package transcribe

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAudio indicates an empty or unusable sample buffer.
	ErrInvalidAudio = errors.New("transcribe: invalid audio")
	// ErrCancelled indicates the request was stopped on purpose. It is a
	// deliberate stop, not a failure, and is never wrapped inside one.
	ErrCancelled = errors.New("transcribe: cancelled")
	// ErrServiceClosed indicates the service no longer accepts requests.
	ErrServiceClosed = errors.New("transcribe: service closed")
	// ErrQueueFull indicates the submission queue is at capacity.
	ErrQueueFull = errors.New("transcribe: queue full")
)

// EngineError is an opaque engine-internal failure. It aborts the whole
// request and is not retried automatically.
type EngineError struct {
	Msg string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("transcribe: engine failure: %s", e.Msg)
}
