// Package transcribe is the long-form transcription engine: it plans
// overlapping windows over a PCM buffer, drives the model context over each
// window in order, and merges the per-window results into one time-ordered
// transcript.
package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/securevox/stt-engine/internal/model"
	"github.com/securevox/stt-engine/internal/telemetry"
	"github.com/securevox/stt-engine/internal/transcript"
	"github.com/securevox/stt-engine/internal/whisper"
)

// Request describes one transcription of a complete audio buffer.
type Request struct {
	// ContextID selects the loaded model context.
	ContextID model.ContextID
	// Samples is 16 kHz mono PCM normalized to [-1,1]. The buffer is
	// borrowed for the duration of the job and never mutated.
	Samples []float32
	// Language is an ISO-639-1 code or "auto". Empty means "auto".
	Language string
	// Progress, when non-nil, receives whole-job percents in [0,100],
	// non-decreasing, and is never called after the job finishes.
	Progress func(percent int)
	// NoWait makes the job fail with model.ErrBusy instead of queueing when
	// the context lease is held by another job.
	NoWait bool
}

// Result is a successful transcription: the ordered segment sequence. The
// full transcript is derived with transcript.JoinText, never stored.
type Result struct {
	Segments   []transcript.Segment
	Language   string
	DurationMS int64
	ChunkCount int
}

// Job is an accepted request working its way through the service's worker.
type Job struct {
	ID uuid.UUID

	ctx context.Context
	req Request

	done   chan struct{}
	result Result
	err    error
}

// Done is closed once the job has finished, whatever the outcome.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result reports the outcome. It must only be called after Done is closed.
func (j *Job) Result() (Result, error) { return j.result, j.err }

// Wait blocks until the job finishes or ctx expires. Cancelling the
// submission context cancels the job itself; cancelling the wait context
// only abandons the wait.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Service runs transcription jobs on a dedicated background worker, one at a
// time in submission order. Submit never blocks on inference, so callers
// stay responsive while a job runs.
type Service struct {
	models  *model.Manager
	invoker *Invoker
	metrics *telemetry.Recorder
	log     *slog.Logger

	jobs chan *Job
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewService starts the worker and returns the service.
func NewService(models *model.Manager, logger *slog.Logger, metrics *telemetry.Recorder) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = telemetry.NewRecorder(logger)
	}
	s := &Service{
		models:  models,
		invoker: NewInvoker(logger),
		metrics: metrics,
		log:     logger.With("component", "transcribe.Service"),
		jobs:    make(chan *Job, 64),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Submit validates and enqueues a request. ctx is the job's cancellation
// token: it is checked before every chunk, and a running chunk always
// completes before cancellation takes effect.
func (s *Service) Submit(ctx context.Context, req Request) (*Job, error) {
	if len(req.Samples) == 0 {
		return nil, ErrInvalidAudio
	}
	if ctx == nil {
		ctx = context.Background()
	}

	job := &Job{
		ID:   uuid.New(),
		ctx:  ctx,
		req:  req,
		done: make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServiceClosed
	}
	select {
	case s.jobs <- job:
	default:
		return nil, ErrQueueFull
	}

	s.log.Debug("job accepted",
		"job_id", job.ID.String(),
		"samples", len(req.Samples),
		"duration_ms", whisper.SamplesToMS(len(req.Samples)),
		"language", req.Language,
	)
	return job, nil
}

// Transcribe submits a request and waits for it.
func (s *Service) Transcribe(ctx context.Context, req Request) (Result, error) {
	job, err := s.Submit(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return job.Wait(context.Background())
}

// Close stops accepting work, finishes queued jobs, and waits for the
// worker to exit.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Service) worker() {
	defer s.wg.Done()
	for job := range s.jobs {
		s.run(job)
	}
}

func (s *Service) run(job *Job) {
	req := job.req
	jm := s.metrics.StartJob(job.ID.String(), len(req.Samples))

	result, err := s.execute(job, jm)
	cancelled := errors.Is(err, ErrCancelled)
	jm.Finish(err, cancelled)

	job.result = result
	job.err = err
	close(job.done)
}

// execute runs the chunk plan sequentially. Any hard failure on any chunk
// aborts the whole job; no partial transcript is ever returned.
func (s *Service) execute(job *Job, jm *telemetry.JobMetrics) (Result, error) {
	ctx := job.ctx
	req := job.req
	language := NormalizeLanguage(req.Language, "")

	lease, err := s.models.Acquire(ctx, req.ContextID, req.NoWait)
	if err != nil {
		return Result{}, mapAcquireError(err)
	}
	defer lease.Release()

	plan := PlanChunks(req.Samples)
	reporter := newProgressReporter(req.Progress)
	perChunk := make([][]transcript.Segment, 0, len(plan))

	for i, chunk := range plan {
		if ctx.Err() != nil {
			return Result{}, ErrCancelled
		}

		var onProgress func(int)
		if req.Progress != nil {
			done := i
			total := len(plan)
			onProgress = func(p int) {
				reporter.report((done*100 + p) / total)
			}
		}

		start := time.Now()
		raw, err := s.invoker.Transcribe(lease, chunk, language, onProgress)
		if err != nil {
			return Result{}, err
		}
		jm.RecordChunk(time.Since(start), len(raw))

		rebased := make([]transcript.Segment, 0, len(raw))
		for _, r := range raw {
			rebased = append(rebased, r.Rebase(chunk.StartMS))
		}
		perChunk = append(perChunk, rebased)
	}

	segments := dropBlankMarkers(mergeChunks(perChunk))
	reporter.report(100)

	return Result{
		Segments:   segments,
		Language:   language,
		DurationMS: whisper.SamplesToMS(len(req.Samples)),
		ChunkCount: len(plan),
	}, nil
}

func mapAcquireError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled
	}
	return err
}

// progressReporter keeps the whole-job percent monotonic even though each
// chunk restarts its native progress at zero.
type progressReporter struct {
	mu   sync.Mutex
	sink func(int)
	last int
}

func newProgressReporter(sink func(int)) *progressReporter {
	return &progressReporter{sink: sink, last: -1}
}

func (p *progressReporter) report(percent int) {
	if p.sink == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if percent <= p.last {
		return
	}
	p.last = percent
	p.sink(percent)
}
