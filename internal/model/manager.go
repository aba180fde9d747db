// Package model owns the lifecycle of loaded model contexts. Callers only
// ever see ContextID values; the native handle never escapes, so use after
// free and double free surface as ErrContextInvalid instead of corrupting
// native state.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/securevox/stt-engine/internal/whisper"
)

var (
	// ErrModelNotFound indicates the model file does not exist.
	ErrModelNotFound = errors.New("model: file not found")
	// ErrModelCorrupt indicates the file exists but the engine rejected it.
	ErrModelCorrupt = errors.New("model: file corrupt or unsupported")
	// ErrOutOfMemory indicates the engine could not allocate the context.
	ErrOutOfMemory = errors.New("model: out of memory")
	// ErrContextInvalid indicates the context was never loaded or was freed.
	ErrContextInvalid = errors.New("model: context invalid")
	// ErrBusy indicates the context is held by another call and the caller
	// asked not to wait.
	ErrBusy = errors.New("model: context busy")
)

// ContextID identifies a loaded model context. IDs are never reused, so a
// stale ID held after Free can only ever fail with ErrContextInvalid.
type ContextID uint64

type modelContext struct {
	id           ContextID
	handle       whisper.Handle
	path         string
	multilingual bool

	// tok carries the single lease token; holding it means exclusive access
	// to the native context. dead is closed once the context is freed, to
	// wake queued acquirers.
	tok  chan struct{}
	dead chan struct{}
}

// Manager tracks loaded contexts and enforces the single-flight rule: all
// transcription calls against one context are serialised through its lease.
// Contexts for different models run independently of each other.
type Manager struct {
	rt  whisper.Runtime
	log *slog.Logger

	mu       sync.Mutex
	contexts map[ContextID]*modelContext
	next     uint64
}

// NewManager returns a manager backed by the given runtime.
func NewManager(rt whisper.Runtime, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		rt:       rt,
		log:      logger.With("component", "model.Manager"),
		contexts: make(map[ContextID]*modelContext),
	}
}

// Load initialises a native context for the model file at path.
func (m *Manager) Load(path string) (ContextID, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrModelNotFound, path)
		}
		return 0, fmt.Errorf("model: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", ErrModelNotFound, path)
	}

	handle, err := m.rt.Init(path)
	if err != nil {
		return 0, classifyInitError(err)
	}

	c := &modelContext{
		handle:       handle,
		path:         path,
		multilingual: m.rt.IsMultilingual(handle),
		tok:          make(chan struct{}, 1),
		dead:         make(chan struct{}),
	}
	c.tok <- struct{}{}

	m.mu.Lock()
	m.next++
	c.id = ContextID(m.next)
	m.contexts[c.id] = c
	m.mu.Unlock()

	m.log.Info("model context loaded",
		"context_id", uint64(c.id),
		"path", path,
		"multilingual", c.multilingual,
	)
	return c.id, nil
}

// Free releases the native context. It waits for an in-flight transcription
// to finish, then wakes any queued acquirers with ErrContextInvalid. A second
// Free of the same ID returns ErrContextInvalid without touching native
// state.
func (m *Manager) Free(id ContextID) error {
	m.mu.Lock()
	c, ok := m.contexts[id]
	if ok {
		delete(m.contexts, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrContextInvalid
	}

	<-c.tok
	close(c.dead)
	m.rt.Free(c.handle)
	c.handle = 0

	m.log.Info("model context freed", "context_id", uint64(id), "path", c.path)
	return nil
}

// IsMultilingual reports whether the loaded model supports languages other
// than English. The value is captured at load time, so this never races with
// an in-flight transcription.
func (m *Manager) IsMultilingual(id ContextID) (bool, error) {
	m.mu.Lock()
	c, ok := m.contexts[id]
	m.mu.Unlock()
	if !ok {
		return false, ErrContextInvalid
	}
	return c.multilingual, nil
}

// ModelPath returns the file the context was loaded from.
func (m *Manager) ModelPath(id ContextID) (string, error) {
	m.mu.Lock()
	c, ok := m.contexts[id]
	m.mu.Unlock()
	if !ok {
		return "", ErrContextInvalid
	}
	return c.path, nil
}

// SystemInfo reports the engine build description.
func (m *Manager) SystemInfo() string {
	return m.rt.SystemInfo()
}

// Acquire takes the context's exclusive lease. With noWait set it fails fast
// with ErrBusy instead of queueing; otherwise it blocks until the lease is
// available, the ctx is cancelled, or the context is freed.
func (m *Manager) Acquire(ctx context.Context, id ContextID, noWait bool) (*Lease, error) {
	m.mu.Lock()
	c, ok := m.contexts[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrContextInvalid
	}

	if noWait {
		select {
		case <-c.tok:
		case <-c.dead:
			return nil, ErrContextInvalid
		default:
			return nil, ErrBusy
		}
	} else {
		select {
		case <-c.tok:
		case <-c.dead:
			return nil, ErrContextInvalid
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &Lease{m: m, c: c}, nil
}

// Close frees every remaining context. Used at process teardown.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]ContextID, 0, len(m.contexts))
	for id := range m.contexts {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Free(id); err != nil && !errors.Is(err, ErrContextInvalid) {
			m.log.Warn("failed to free context", "context_id", uint64(id), "error", err)
		}
	}
}

// Lease is the exclusive borrow of one context. It must be released exactly
// once; releasing twice is a no-op and using a released lease fails with
// ErrContextInvalid.
type Lease struct {
	m        *Manager
	c        *modelContext
	mu       sync.Mutex
	released bool
}

// Release returns the lease token, letting the next queued caller proceed.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.c.tok <- struct{}{}
}

// Transcribe runs one blocking engine call against the leased context. The
// samples buffer stays owned by the caller and is read-only to the engine.
func (l *Lease) Transcribe(samples []float32, language string, onProgress func(percent int)) ([]byte, error) {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	if released {
		return nil, ErrContextInvalid
	}
	return l.m.rt.Transcribe(l.c.handle, samples, language, onProgress)
}

func classifyInitError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "memory") || strings.Contains(msg, "alloc") {
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}
	return fmt.Errorf("%w: %v", ErrModelCorrupt, err)
}
