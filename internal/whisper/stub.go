package whisper

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/securevox/stt-engine/internal/transcript"
)

// SampleRate is the only PCM sample rate the engine accepts, in Hz. Buffers
// are mono float32 normalized to [-1,1].
const SampleRate = 16000

// SamplesToMS converts a sample count to a duration in milliseconds.
func SamplesToMS(n int) int64 {
	return int64(n) * 1000 / SampleRate
}

// MSToSamples converts a duration in milliseconds to a sample count.
func MSToSamples(ms int64) int {
	return int(ms * SampleRate / 1000)
}

// StubCall describes one Transcribe invocation against the stub runtime.
type StubCall struct {
	Handle   Handle
	Samples  []float32
	Language string
}

// StubRuntime is a scripted Runtime used by tests and by deployments that
// force the stub through configuration. It fabricates exchange payloads
// without touching native code.
type StubRuntime struct {
	// Multilingual is reported for every handle.
	Multilingual bool
	// InitErr forces Init to fail.
	InitErr error
	// TranscribeErr forces Transcribe to fail after recording the call.
	TranscribeErr error
	// Script produces the raw segments for a call. When nil, the stub emits
	// a single segment spanning the whole chunk after reporting full
	// progress.
	Script func(call StubCall, onProgress func(percent int)) []transcript.RawSegment

	mu      sync.Mutex
	next    uintptr
	handles map[Handle]string

	transcribeCalls atomic.Int64
	inFlight        atomic.Int64
	maxInFlight     atomic.Int64
}

// NewStubRuntime returns an empty scripted runtime.
func NewStubRuntime() *StubRuntime {
	return &StubRuntime{handles: make(map[Handle]string)}
}

func (s *StubRuntime) Init(modelPath string) (Handle, error) {
	if s.InitErr != nil {
		return 0, s.InitErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := Handle(s.next)
	s.handles[h] = modelPath
	return h, nil
}

func (s *StubRuntime) Free(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, h)
}

func (s *StubRuntime) Transcribe(h Handle, samples []float32, language string, onProgress func(percent int)) ([]byte, error) {
	s.mu.Lock()
	_, ok := s.handles[h]
	s.mu.Unlock()
	if !ok {
		return nil, &RuntimeError{Op: "transcribe", Msg: "context is null"}
	}

	s.transcribeCalls.Add(1)
	cur := s.inFlight.Add(1)
	for {
		max := s.maxInFlight.Load()
		if cur <= max || s.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	defer s.inFlight.Add(-1)

	if s.TranscribeErr != nil {
		return nil, s.TranscribeErr
	}

	script := s.Script
	if script == nil {
		script = defaultScript
	}
	segments := script(StubCall{Handle: h, Samples: samples, Language: language}, onProgress)
	return transcript.EncodePayload(segments)
}

func (s *StubRuntime) IsMultilingual(Handle) bool { return s.Multilingual }

func (s *StubRuntime) SystemInfo() string { return "stub runtime (no native backend)" }

// TranscribeCalls reports how many Transcribe invocations were observed.
func (s *StubRuntime) TranscribeCalls() int {
	return int(s.transcribeCalls.Load())
}

// MaxConcurrent reports the highest number of Transcribe calls that were ever
// in flight at the same time.
func (s *StubRuntime) MaxConcurrent() int {
	return int(s.maxInFlight.Load())
}

// OpenHandles reports the number of contexts that were initialised and not
// yet freed.
func (s *StubRuntime) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func defaultScript(call StubCall, onProgress func(percent int)) []transcript.RawSegment {
	if onProgress != nil {
		onProgress(0)
		onProgress(100)
	}
	return []transcript.RawSegment{{
		Text:  fmt.Sprintf("(stub %d samples)", len(call.Samples)),
		Start: 0,
		End:   SamplesToMS(len(call.Samples)),
	}}
}
