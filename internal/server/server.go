// Package server exposes the transcription engine over HTTP and WebSocket
// for local clients.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/securevox/stt-engine/internal/audio"
	"github.com/securevox/stt-engine/internal/buildinfo"
	"github.com/securevox/stt-engine/internal/model"
	"github.com/securevox/stt-engine/internal/storage"
	"github.com/securevox/stt-engine/internal/telemetry"
	"github.com/securevox/stt-engine/internal/transcribe"
	"github.com/securevox/stt-engine/internal/transcript"
)

// maxUploadBytes caps request bodies at one hour of 16-bit 16 kHz mono WAV.
const maxUploadBytes = 16000 * 2 * 3600

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon binds to loopback; origin checks add nothing there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Options wires the server to the rest of the daemon.
type Options struct {
	Addr         string
	ContextID    model.ContextID
	ModelVariant string
	Service      *transcribe.Service
	Store        *storage.DB
	Metrics      *telemetry.Recorder
	Logger       *slog.Logger
}

// Server is the daemon's HTTP surface.
type Server struct {
	opts Options
	log  *slog.Logger
	reg  *registry
	http *http.Server

	wg sync.WaitGroup
}

// New builds the server without binding the listener.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		opts: opts,
		log:  logger.With("component", "server"),
		reg:  newRegistry(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/transcriptions", s.handleTranscriptions)
	mux.HandleFunc("GET /api/transcriptions/{id}/segments", s.handleSegments)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /ws/jobs/{id}", s.handleJobSocket)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve accepts connections until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.opts.Addr, err)
	}
	s.log.Info("listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		s.wg.Wait()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "failed to read request body")
		}
		return
	}
	samples, err := audio.DecodeWAV(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	noWait, _ := strconv.ParseBool(r.URL.Query().Get("nowait"))
	req := transcribe.Request{
		ContextID: s.opts.ContextID,
		Samples:   samples,
		Language:  r.URL.Query().Get("language"),
		NoWait:    noWait,
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	relay := &progressRelay{}
	req.Progress = relay.publish

	job, err := s.opts.Service.Submit(jobCtx, req)
	if err != nil {
		cancel()
		switch {
		case errors.Is(err, transcribe.ErrInvalidAudio):
			writeError(w, http.StatusBadRequest, "no audio samples in request")
		case errors.Is(err, transcribe.ErrQueueFull):
			writeError(w, http.StatusTooManyRequests, "job queue is full")
		case errors.Is(err, transcribe.ErrServiceClosed):
			writeError(w, http.StatusServiceUnavailable, "engine is shutting down")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	tracked := s.reg.add(job, cancel)
	relay.attach(tracked)
	s.wg.Add(1)
	go s.watchJob(tracked, len(samples))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID.String(),
	})
}

// watchJob waits for the job to finish, persists successful results, and
// settles the tracked state.
func (s *Server) watchJob(t *trackedJob, sampleCount int) {
	defer s.wg.Done()
	defer t.cancel()

	<-t.job.Done()
	result, err := t.job.Result()
	switch {
	case err == nil:
		tr := &storage.Transcription{
			JobID:        t.id.String(),
			Language:     result.Language,
			ModelVariant: s.opts.ModelVariant,
			DurationMS:   result.DurationMS,
			SampleCount:  int64(sampleCount),
			ChunkCount:   result.ChunkCount,
		}
		if s.opts.Store != nil {
			if saveErr := s.opts.Store.SaveResult(tr, result.Segments); saveErr != nil {
				s.log.Error("persist transcription", "job", t.id, "error", saveErr)
			}
		}
		t.finish(statusDone, "")
	case errors.Is(err, transcribe.ErrCancelled):
		t.finish(statusCancelled, "")
	default:
		t.finish(statusFailed, err.Error())
	}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	status, percent, errMsg := t.snapshot()

	resp := map[string]any{
		"job_id":   t.id.String(),
		"status":   status,
		"progress": percent,
	}
	if errMsg != "" {
		resp["error"] = errMsg
	}
	if status == statusDone {
		result, _ := t.job.Result()
		resp["language"] = result.Language
		resp["duration_ms"] = result.DurationMS
		resp["segments"] = segmentsJSON(result.Segments)
		resp["text"] = transcript.JoinText(result.Segments)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	t.cancel()
	writeJSON(w, http.StatusOK, map[string]any{"job_id": t.id.String(), "cancelling": true})
}

func (s *Server) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	rows, err := s.opts.Store.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(rows))
	for _, tr := range rows {
		out = append(out, map[string]any{
			"job_id":        tr.JobID,
			"created_at":    tr.CreatedAt,
			"language":      tr.Language,
			"model_variant": tr.ModelVariant,
			"duration_ms":   tr.DurationMS,
			"chunk_count":   tr.ChunkCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcriptions": out})
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}
	jobID := r.PathValue("id")
	segments, err := s.opts.Store.Segments(jobID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transcription not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":   jobID,
		"segments": segmentsJSON(segments),
		"text":     transcript.JoinText(segments),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.opts.Metrics.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":          buildinfo.Info.Name,
		"version":       buildinfo.Version(),
		"model_variant": s.opts.ModelVariant,
		"metrics": map[string]any{
			"total_jobs":      snap.TotalJobs,
			"active_jobs":     snap.ActiveJobs,
			"total_chunks":    snap.TotalChunks,
			"total_segments":  snap.TotalSegments,
			"total_samples":   snap.TotalSamples,
			"total_cancelled": snap.TotalCancelled,
			"total_failures":  snap.TotalFailures,
		},
	})
}

// socketMessage is the client-to-server frame; only cancel is understood.
type socketMessage struct {
	Type string `json:"type"`
}

func (s *Server) handleJobSocket(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	// Reader: the only inbound frame is a cancel request. The ack is sent
	// from the write loop so frames never interleave.
	cancelled := make(chan struct{}, 1)
	go func() {
		for {
			var msg socketMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "cancel" {
				t.cancel()
				select {
				case cancelled <- struct{}{}:
				default:
				}
			}
		}
	}()

	progress, unsubscribe := t.subscribe()
	defer unsubscribe()

	for {
		select {
		case <-cancelled:
			if err := conn.WriteJSON(map[string]any{"type": "cancelling"}); err != nil {
				return
			}
		case pct := <-progress:
			err := conn.WriteJSON(map[string]any{"type": "progress", "percent": pct})
			if err != nil {
				return
			}
		case <-t.finished:
			status, percent, errMsg := t.snapshot()
			final := map[string]any{
				"type":     "finished",
				"status":   status,
				"progress": percent,
			}
			if errMsg != "" {
				final["error"] = errMsg
			}
			if status == statusDone {
				result, _ := t.job.Result()
				final["segments"] = segmentsJSON(result.Segments)
				final["text"] = transcript.JoinText(result.Segments)
			}
			conn.WriteJSON(final)
			return
		}
	}
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*trackedJob, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return nil, false
	}
	t, ok := s.reg.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return t, true
}

func segmentsJSON(segments []transcript.Segment) []map[string]any {
	out := make([]map[string]any, 0, len(segments))
	for _, seg := range segments {
		out = append(out, map[string]any{
			"text":     seg.Text,
			"start_ms": seg.Start,
			"end_ms":   seg.End,
		})
	}
	return out
}
