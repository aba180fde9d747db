package server

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/securevox/stt-engine/internal/transcribe"
)

type jobStatus string

const (
	statusRunning   jobStatus = "running"
	statusDone      jobStatus = "done"
	statusFailed    jobStatus = "failed"
	statusCancelled jobStatus = "cancelled"
)

// trackedJob pairs a running transcription with its cancel function and the
// progress subscribers watching it.
type trackedJob struct {
	id     uuid.UUID
	job    *transcribe.Job
	cancel context.CancelFunc

	mu       sync.Mutex
	status   jobStatus
	percent  int
	errMsg   string
	finished chan struct{}
	subs     map[chan int]struct{}
}

// registry tracks jobs for the API surface. Finished jobs stay visible until
// the process exits; results themselves live in storage.
type registry struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*trackedJob
}

func newRegistry() *registry {
	return &registry{jobs: make(map[uuid.UUID]*trackedJob)}
}

func (r *registry) add(job *transcribe.Job, cancel context.CancelFunc) *trackedJob {
	t := &trackedJob{
		id:       job.ID,
		job:      job,
		cancel:   cancel,
		status:   statusRunning,
		finished: make(chan struct{}),
		subs:     make(map[chan int]struct{}),
	}
	r.mu.Lock()
	r.jobs[t.id] = t
	r.mu.Unlock()
	return t
}

func (r *registry) get(id uuid.UUID) (*trackedJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.jobs[id]
	return t, ok
}

// publish records a progress percent and fans it out. Slow subscribers skip
// intermediate updates rather than stalling the job.
func (t *trackedJob) publish(percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.percent = percent
	for ch := range t.subs {
		select {
		case ch <- percent:
		default:
		}
	}
}

// finish marks the terminal state and wakes subscribers.
func (t *trackedJob) finish(status jobStatus, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
	t.errMsg = errMsg
	close(t.finished)
}

func (t *trackedJob) snapshot() (jobStatus, int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.percent, t.errMsg
}

// progressRelay bridges the gap between job submission and registration:
// the worker may report progress before the registry entry exists, so early
// percents are parked and replayed on attach.
type progressRelay struct {
	mu   sync.Mutex
	t    *trackedJob
	last int
	seen bool
}

func (p *progressRelay) publish(percent int) {
	p.mu.Lock()
	t := p.t
	p.last, p.seen = percent, true
	p.mu.Unlock()
	if t != nil {
		t.publish(percent)
	}
}

func (p *progressRelay) attach(t *trackedJob) {
	p.mu.Lock()
	p.t = t
	replay, seen := p.last, p.seen
	p.mu.Unlock()
	if seen {
		t.publish(replay)
	}
}

// subscribe returns a channel carrying progress percents until the job
// finishes. The caller must call the returned cancel function.
func (t *trackedJob) subscribe() (<-chan int, func()) {
	ch := make(chan int, 8)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	ch <- t.percent
	t.mu.Unlock()
	return ch, func() {
		t.mu.Lock()
		delete(t.subs, ch)
		t.mu.Unlock()
	}
}
