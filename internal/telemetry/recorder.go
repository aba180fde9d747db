// Package telemetry tracks engine-level counters and per-job metrics.
package telemetry

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// Recorder tracks cumulative transcription telemetry for the process.
type Recorder struct {
	log *slog.Logger

	totalJobs      atomic.Uint64
	activeJobs     atomic.Int64
	totalChunks    atomic.Uint64
	totalSegments  atomic.Uint64
	totalSamples   atomic.Uint64
	totalCancelled atomic.Uint64
	totalFailures  atomic.Uint64
}

// Snapshot captures cumulative metrics recorded so far.
type Snapshot struct {
	TotalJobs      uint64
	ActiveJobs     int64
	TotalChunks    uint64
	TotalSegments  uint64
	TotalSamples   uint64
	TotalCancelled uint64
	TotalFailures  uint64
}

// NewRecorder constructs a Recorder using the provided logger.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		log: logger.With("component", "telemetry.Recorder"),
	}
}

// Snapshot returns an immutable view of the recorder totals.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		TotalJobs:      r.totalJobs.Load(),
		ActiveJobs:     r.activeJobs.Load(),
		TotalChunks:    r.totalChunks.Load(),
		TotalSegments:  r.totalSegments.Load(),
		TotalSamples:   r.totalSamples.Load(),
		TotalCancelled: r.totalCancelled.Load(),
		TotalFailures:  r.totalFailures.Load(),
	}
}

// JobMetrics accumulates statistics for a single transcription job.
type JobMetrics struct {
	recorder *Recorder
	log      *slog.Logger

	jobID string

	started   time.Time
	chunks    int
	segments  int
	inference time.Duration
	closed    atomic.Bool
}

// StartJob initialises a JobMetrics instance bound to the recorder.
func (r *Recorder) StartJob(jobID string, samples int) *JobMetrics {
	if r == nil {
		return nil
	}

	r.totalJobs.Add(1)
	r.activeJobs.Add(1)
	if samples > 0 {
		r.totalSamples.Add(uint64(samples))
	}

	return &JobMetrics{
		recorder: r,
		log:      r.log.With("job_id", jobID),
		jobID:    jobID,
		started:  time.Now(),
	}
}

// RecordChunk updates counters for one completed chunk invocation.
func (j *JobMetrics) RecordChunk(inference time.Duration, segments int) {
	if j == nil {
		return
	}
	j.chunks++
	j.segments += segments
	j.inference += inference
	j.recorder.totalChunks.Add(1)
	if segments > 0 {
		j.recorder.totalSegments.Add(uint64(segments))
	}

	j.log.Debug("chunk completed",
		"chunk_index", j.chunks-1,
		"inference_ms", inference.Milliseconds(),
		"segments", segments,
	)
}

// Chunks reports how many chunk invocations this job has completed.
func (j *JobMetrics) Chunks() int {
	if j == nil {
		return 0
	}
	return j.chunks
}

// Finish logs a summary and updates the recorder. cancelled distinguishes a
// deliberate stop from a failure.
func (j *JobMetrics) Finish(err error, cancelled bool) {
	if j == nil {
		return
	}
	if !j.closed.CompareAndSwap(false, true) {
		return
	}

	defer j.recorder.activeJobs.Add(-1)

	duration := time.Since(j.started)
	args := []any{
		"duration_ms", duration.Milliseconds(),
		"inference_ms", j.inference.Milliseconds(),
		"chunks", j.chunks,
		"segments", j.segments,
	}

	switch {
	case cancelled:
		j.recorder.totalCancelled.Add(1)
		j.log.Info("job cancelled", args...)
	case err != nil:
		j.recorder.totalFailures.Add(1)
		j.log.Error("job failed", append(args, "error", err)...)
	default:
		j.log.Info("job completed", args...)
	}
}
