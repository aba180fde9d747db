// Command securevox transcribes a WAV file in-process and prints the
// timestamped transcript.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"

	"github.com/securevox/stt-engine/internal/audio"
	"github.com/securevox/stt-engine/internal/config"
	"github.com/securevox/stt-engine/internal/model"
	"github.com/securevox/stt-engine/internal/models"
	"github.com/securevox/stt-engine/internal/transcribe"
	"github.com/securevox/stt-engine/internal/transcript"
	"github.com/securevox/stt-engine/internal/whisper"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "securevox:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		language = flag.String("language", "", "language code or \"auto\"")
		variant  = flag.String("model", "", "model variant to use")
		path     = flag.String("model-path", "", "explicit model file, overrides -model")
		stub     = flag.Bool("stub", false, "use the stub runtime instead of the native wrapper")
		quiet    = flag.Bool("quiet", false, "suppress the progress bar")
	)
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("usage: securevox [flags] <input.wav>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Loader{}.Load()
	if err != nil {
		return err
	}
	if *language != "" {
		cfg.Language = *language
	}
	if *variant != "" {
		cfg.ModelVariant = *variant
	}
	if *path != "" {
		cfg.ModelPath = *path
	}
	if *stub {
		cfg.UseStubRuntime = true
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		return err
	}
	samples, err := audio.DecodeWAV(f)
	f.Close()
	if err != nil {
		return err
	}

	var rt whisper.Runtime
	if cfg.UseStubRuntime {
		rt = whisper.NewStubRuntime()
	} else {
		rt, err = whisper.NewNativeRuntime(cfg.WrapperLib)
		if err != nil {
			return err
		}
	}

	manifest, err := models.DefaultManifest()
	if err != nil {
		return err
	}
	modelMgr, err := models.NewManager(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	modelPath, err := modelMgr.EnsureVariant(ctx, cfg.ModelVariant, models.EnsureOptions{
		Manifest: manifest,
		Override: cfg.ModelPath,
	})
	if err != nil {
		return err
	}

	mgr := model.NewManager(rt, logger)
	defer mgr.Close()
	contextID, err := mgr.Load(modelPath)
	if err != nil {
		return err
	}

	svc := transcribe.NewService(mgr, logger, nil)
	defer svc.Close()

	req := transcribe.Request{
		ContextID: contextID,
		Samples:   samples,
		Language:  cfg.Language,
	}
	if !*quiet {
		bar := progressbar.NewOptions(100,
			progressbar.OptionSetDescription("transcribing"),
			progressbar.OptionShowBytes(false),
			progressbar.OptionClearOnFinish(),
		)
		req.Progress = func(percent int) { bar.Set(percent) }
	}

	result, err := svc.Transcribe(ctx, req)
	if err != nil {
		return err
	}

	for _, seg := range result.Segments {
		fmt.Printf("[%s --> %s] %s\n", formatMS(seg.Start), formatMS(seg.End), seg.Text)
	}
	if text := transcript.JoinText(result.Segments); text != "" {
		fmt.Println()
		fmt.Println(text)
	}
	return nil
}

func formatMS(ms int64) string {
	sign := ""
	if ms < 0 {
		sign, ms = "-", -ms
	}
	return fmt.Sprintf("%s%02d:%02d.%03d", sign, ms/60000, (ms%60000)/1000, ms%1000)
}
