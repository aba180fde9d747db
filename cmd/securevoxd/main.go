package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/securevox/stt-engine/internal/buildinfo"
	"github.com/securevox/stt-engine/internal/config"
	"github.com/securevox/stt-engine/internal/model"
	"github.com/securevox/stt-engine/internal/models"
	"github.com/securevox/stt-engine/internal/server"
	"github.com/securevox/stt-engine/internal/storage"
	"github.com/securevox/stt-engine/internal/telemetry"
	"github.com/securevox/stt-engine/internal/transcribe"
	"github.com/securevox/stt-engine/internal/whisper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Loader{}.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting engine",
		"version", buildinfo.Version(),
		"listen_addr", cfg.ListenAddr,
		"model_variant", cfg.ModelVariant,
		"language", cfg.Language,
		"data_dir", cfg.DataDir,
	)

	recorder := telemetry.NewRecorder(logger)

	runtime, err := newRuntime(cfg, logger)
	if err != nil {
		logger.Error("failed to initialise whisper runtime", "error", err)
		os.Exit(1)
	}
	logger.Info("runtime ready", "system_info", runtime.SystemInfo())

	modelPath, err := ensureModel(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to prepare model", "error", err)
		os.Exit(1)
	}
	logger.Info("resolved model path", "path", modelPath)

	manager := model.NewManager(runtime, logger)
	defer manager.Close()

	contextID, err := manager.Load(modelPath)
	if err != nil {
		logger.Error("failed to load model", "error", err)
		os.Exit(1)
	}

	service := transcribe.NewService(manager, logger, recorder)
	defer service.Close()

	dbPath := cfg.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "securevox.db")
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		logger.Error("failed to open database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv := server.New(server.Options{
		Addr:         cfg.ListenAddr,
		ContextID:    contextID,
		ModelVariant: cfg.ModelVariant,
		Service:      service,
		Store:        db,
		Metrics:      recorder,
		Logger:       logger,
	})

	if err := srv.Serve(ctx); err != nil {
		logger.Error("server terminated with error", "error", err)
		os.Exit(1)
	}

	if snapshot := recorder.Snapshot(); snapshot.TotalJobs > 0 {
		logger.Info("telemetry totals",
			"total_jobs", snapshot.TotalJobs,
			"total_chunks", snapshot.TotalChunks,
			"total_segments", snapshot.TotalSegments,
			"total_samples", snapshot.TotalSamples,
			"total_cancelled", snapshot.TotalCancelled,
			"total_failures", snapshot.TotalFailures,
		)
	}

	logger.Info("engine stopped")
}

// newRuntime picks the native wrapper when it is compiled in, falling back
// to the stub only when explicitly requested.
func newRuntime(cfg config.Config, logger *slog.Logger) (whisper.Runtime, error) {
	if cfg.UseStubRuntime {
		logger.Warn("using stub runtime, transcripts will be placeholders")
		return whisper.NewStubRuntime(), nil
	}
	return whisper.NewNativeRuntime(cfg.WrapperLib)
}

func ensureModel(ctx context.Context, cfg config.Config, logger *slog.Logger) (string, error) {
	manifest, err := models.DefaultManifest()
	if err != nil {
		return "", err
	}
	mgr, err := models.NewManager(cfg.DataDir, logger)
	if err != nil {
		return "", err
	}
	return mgr.EnsureVariant(ctx, cfg.ModelVariant, models.EnsureOptions{
		Manifest: manifest,
		Override: cfg.ModelPath,
	})
}

func newLogger(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
