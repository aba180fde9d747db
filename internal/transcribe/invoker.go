package transcribe

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/securevox/stt-engine/internal/model"
	"github.com/securevox/stt-engine/internal/transcript"
	"github.com/securevox/stt-engine/internal/whisper"
)

// Invoker crosses the engine boundary for one chunk at a time: one blocking
// native call in, decoded raw segments out. The chunk always runs to
// completion once started; cancellation is only honoured between chunks, by
// the orchestrator.
type Invoker struct {
	log *slog.Logger
}

// NewInvoker returns an Invoker logging through the given logger.
func NewInvoker(logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{log: logger.With("component", "transcribe.Invoker")}
}

// Transcribe runs the leased context over one chunk. onProgress, when
// non-nil, receives clamped, non-decreasing percents in [0,100] on the
// invoker's own forwarding goroutine, never on the engine's compute thread,
// and never after Transcribe has returned.
func (inv *Invoker) Transcribe(lease *model.Lease, chunk Chunk, language string, onProgress func(percent int)) ([]transcript.RawSegment, error) {
	if len(chunk.Samples) == 0 {
		return nil, ErrInvalidAudio
	}

	var (
		updates chan int
		wg      sync.WaitGroup
		sink    func(int)
	)
	if onProgress != nil {
		updates = make(chan int, 16)
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := -1
			for p := range updates {
				if p < 0 {
					p = 0
				}
				if p > 100 {
					p = 100
				}
				if p <= last {
					continue
				}
				last = p
				onProgress(p)
			}
		}()
		sink = func(p int) { updates <- p }
	}

	payload, err := lease.Transcribe(chunk.Samples, language, sink)
	if updates != nil {
		close(updates)
		wg.Wait()
	}
	if err != nil {
		return nil, inv.mapEngineError(err, chunk)
	}

	segments, err := transcript.DecodePayload(payload)
	if err != nil {
		inv.log.Error("undecodable exchange payload",
			"chunk_start_ms", chunk.StartMS,
			"payload_bytes", len(payload),
			"error", err,
		)
		return nil, err
	}
	return segments, nil
}

func (inv *Invoker) mapEngineError(err error, chunk Chunk) error {
	if errors.Is(err, model.ErrContextInvalid) {
		return err
	}
	var rerr *whisper.RuntimeError
	if errors.As(err, &rerr) {
		if strings.Contains(strings.ToLower(rerr.Msg), "invalid audio") {
			return ErrInvalidAudio
		}
		inv.log.Error("native transcription failed",
			"chunk_start_ms", chunk.StartMS,
			"chunk_ms", chunk.DurationMS(),
			"error", rerr.Msg,
		)
		return &EngineError{Msg: rerr.Msg}
	}
	return err
}
