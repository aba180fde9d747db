package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gorilla/websocket"

	"github.com/securevox/stt-engine/internal/model"
	"github.com/securevox/stt-engine/internal/storage"
	"github.com/securevox/stt-engine/internal/telemetry"
	"github.com/securevox/stt-engine/internal/transcribe"
	"github.com/securevox/stt-engine/internal/transcript"
	whisp "github.com/securevox/stt-engine/internal/whisper"
)

type testEnv struct {
	stub   *whisp.StubRuntime
	srv    *Server
	server *httptest.Server
}

func newTestEnv(t *testing.T, script func(whisp.StubCall, func(int)) []transcript.RawSegment) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stub := whisp.NewStubRuntime()
	stub.Script = script

	mgr := model.NewManager(stub, logger)
	t.Cleanup(mgr.Close)

	modelPath := filepath.Join(t.TempDir(), "ggml-base.bin")
	if err := os.WriteFile(modelPath, []byte("ggml"), 0o644); err != nil {
		t.Fatalf("write model fixture: %v", err)
	}
	ctxID, err := mgr.Load(modelPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	metrics := telemetry.NewRecorder(logger)
	svc := transcribe.NewService(mgr, logger, metrics)

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	srv := New(Options{
		Addr:         "127.0.0.1:0",
		ContextID:    ctxID,
		ModelVariant: "base",
		Service:      svc,
		Store:        db,
		Metrics:      metrics,
		Logger:       logger,
	})
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		srv.wg.Wait()
		svc.Close()
		db.Close()
	})

	return &testEnv{stub: stub, srv: srv, server: ts}
}

// wavBytes encodes 16-bit mono PCM at the engine rate.
func wavBytes(t *testing.T, samples int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	enc := wav.NewEncoder(f, whisp.SampleRate, 16, 1, 1)
	data := make([]int, samples)
	for i := range data {
		data[i] = 1000
	}
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: whisp.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	f.Close()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return raw
}

func submitJob(t *testing.T, env *testEnv, body []byte, query string) string {
	t.Helper()
	resp, err := http.Post(env.server.URL+"/api/transcribe"+query, "audio/wav", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/transcribe: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		payload, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, payload)
	}
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.JobID == "" {
		t.Fatal("response missing job_id")
	}
	return out.JobID
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode
}

func waitForStatus(t *testing.T, env *testEnv, jobID, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var out map[string]any
		if code := getJSON(t, env.server.URL+"/api/jobs/"+jobID, &out); code != http.StatusOK {
			t.Fatalf("unexpected status code %d", code)
		}
		if out["status"] == want {
			return out
		}
		if out["status"] != "running" {
			t.Fatalf("job ended as %v, want %s (error: %v)", out["status"], want, out["error"])
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job never reached status %s", want)
	return nil
}

func TestTranscribeEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	jobID := submitJob(t, env, wavBytes(t, whisp.SampleRate), "?language=EN")

	out := waitForStatus(t, env, jobID, "done")
	if out["language"] != "en" {
		t.Fatalf("language: got %v, want en", out["language"])
	}
	if out["duration_ms"] != float64(1000) {
		t.Fatalf("duration_ms: got %v, want 1000", out["duration_ms"])
	}
	text, _ := out["text"].(string)
	if !strings.Contains(text, "stub") {
		t.Fatalf("unexpected text: %q", text)
	}

	// Persisted result must be readable back.
	var seg map[string]any
	code := getJSON(t, env.server.URL+"/api/transcriptions/"+jobID+"/segments", &seg)
	if code != http.StatusOK {
		t.Fatalf("segments status: %d", code)
	}
	if seg["text"] != text {
		t.Fatalf("stored text %v differs from job text %q", seg["text"], text)
	}

	var list map[string]any
	if code := getJSON(t, env.server.URL+"/api/transcriptions", &list); code != http.StatusOK {
		t.Fatalf("transcriptions status: %d", code)
	}
	rows, _ := list["transcriptions"].([]any)
	if len(rows) != 1 {
		t.Fatalf("got %d stored transcriptions, want 1", len(rows))
	}
}

func TestTranscribeRejectsGarbage(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Post(env.server.URL+"/api/transcribe", "audio/wav",
		strings.NewReader("definitely not audio"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", resp.StatusCode)
	}
}

// brokenBody fails mid-read like a client that dropped the connection.
type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestTranscribeBodyReadFailureIsBadRequest(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", brokenBody{})
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}

func TestJobNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	var out map[string]any
	code := getJSON(t, env.server.URL+"/api/jobs/00000000-0000-0000-0000-000000000000", &out)
	if code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", code)
	}
}

func TestCancelEndpoint(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	script := func(call whisp.StubCall, onProgress func(int)) []transcript.RawSegment {
		close(started)
		<-release
		return []transcript.RawSegment{{Text: "late", Start: 0, End: 100}}
	}
	env := newTestEnv(t, script)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	// Two chunks: cancel lands between the first and the second.
	jobID := submitJob(t, env, wavBytes(t, 56*whisp.SampleRate), "")
	<-started

	resp, err := http.Post(env.server.URL+"/api/jobs/"+jobID+"/cancel", "", nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	resp.Body.Close()
	close(release)

	waitForStatus(t, env, jobID, "cancelled")
	if calls := env.stub.TranscribeCalls(); calls != 1 {
		t.Fatalf("got %d chunk invocations, want 1", calls)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	jobID := submitJob(t, env, wavBytes(t, whisp.SampleRate), "")
	waitForStatus(t, env, jobID, "done")

	var out map[string]any
	if code := getJSON(t, env.server.URL+"/api/status", &out); code != http.StatusOK {
		t.Fatalf("status code: %d", code)
	}
	if out["model_variant"] != "base" {
		t.Fatalf("model_variant: got %v", out["model_variant"])
	}
	metrics, _ := out["metrics"].(map[string]any)
	if metrics["total_jobs"] != float64(1) {
		t.Fatalf("total_jobs: got %v, want 1", metrics["total_jobs"])
	}
}

func TestJobSocketStreamsProgressAndResult(t *testing.T) {
	env := newTestEnv(t, nil)
	jobID := submitJob(t, env, wavBytes(t, whisp.SampleRate), "")

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/jobs/" + jobID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		switch msg["type"] {
		case "progress":
			pct, _ := msg["percent"].(float64)
			if pct < 0 || pct > 100 {
				t.Fatalf("progress out of range: %v", pct)
			}
		case "finished":
			if msg["status"] != "done" {
				t.Fatalf("finished with status %v (error: %v)", msg["status"], msg["error"])
			}
			if msg["text"] == "" {
				t.Fatal("finished frame missing text")
			}
			return
		default:
			t.Fatalf("unexpected frame type %v", msg["type"])
		}
	}
}

func TestJobSocketCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	script := func(call whisp.StubCall, onProgress func(int)) []transcript.RawSegment {
		close(started)
		<-release
		return []transcript.RawSegment{{Text: "late", Start: 0, End: 100}}
	}
	env := newTestEnv(t, script)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	jobID := submitJob(t, env, wavBytes(t, 56*whisp.SampleRate), "")
	<-started

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/jobs/" + jobID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "cancel"}); err != nil {
		t.Fatalf("send cancel: %v", err)
	}

	// Wait for the ack before unblocking the chunk so the cancel is in
	// effect by the time the next chunk would start.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	released := false
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if msg["type"] == "cancelling" && !released {
			close(release)
			released = true
		}
		if msg["type"] == "finished" {
			if msg["status"] != "cancelled" {
				t.Fatalf("finished with status %v, want cancelled", msg["status"])
			}
			return
		}
	}
}

func TestTranscriptionsLimitValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	var out map[string]any
	if code := getJSON(t, env.server.URL+"/api/transcriptions?limit=0", &out); code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", code)
	}
}
