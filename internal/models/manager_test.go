package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultManifest(t *testing.T) {
	manifest, err := DefaultManifest()
	if err != nil {
		t.Fatalf("DefaultManifest returned error: %v", err)
	}
	v, err := manifest.Variant("tiny")
	if err != nil {
		t.Fatalf("Variant returned error: %v", err)
	}
	if v.File != "ggml-tiny.bin" {
		t.Fatalf("unexpected file: %q", v.File)
	}
	if !strings.HasPrefix(v.URL, "https://") {
		t.Fatalf("unexpected url: %q", v.URL)
	}
	if _, err := manifest.Variant("gigantic"); err == nil {
		t.Fatal("expected error for unknown variant")
	}
}

func TestResolveOverrideMustExist(t *testing.T) {
	m, err := NewManager(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	manifest := Manifest{Variants: map[string]Variant{"base": {File: "ggml-base.bin"}}}
	if _, err := m.Resolve(manifest, "base", "/nope/model.bin"); err == nil {
		t.Fatal("expected error for missing override")
	}

	path, err := m.Resolve(manifest, "base", "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if path != filepath.Join(m.Dir(), "ggml-base.bin") {
		t.Fatalf("unexpected path: %q", path)
	}
}

func TestEnsureVariantUsesPresentFile(t *testing.T) {
	m, err := NewManager(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	path := filepath.Join(m.Dir(), "ggml-tiny.bin")
	if err := os.WriteFile(path, []byte("ggml"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	manifest := Manifest{Variants: map[string]Variant{"tiny": {File: "ggml-tiny.bin"}}}
	got, err := m.EnsureVariant(context.Background(), "tiny", EnsureOptions{Manifest: manifest})
	if err != nil {
		t.Fatalf("EnsureVariant returned error: %v", err)
	}
	if got != path {
		t.Fatalf("unexpected path: %q", got)
	}
}

func TestEnsureVariantDownloadsAndVerifies(t *testing.T) {
	body := []byte("pretend this is a ggml model")
	sum := sha256.Sum256(body)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	m, err := NewManager(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	manifest := Manifest{Variants: map[string]Variant{"tiny": {
		File:   "ggml-tiny.bin",
		URL:    srv.URL + "/ggml-tiny.bin",
		SHA256: hex.EncodeToString(sum[:]),
	}}}

	path, err := m.EnsureVariant(context.Background(), "tiny", EnsureOptions{Manifest: manifest})
	if err != nil {
		t.Fatalf("EnsureVariant returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read downloaded model: %v", err)
	}
	if string(data) != string(body) {
		t.Fatal("downloaded contents do not match served body")
	}
	if _, err := os.Stat(path + ".partial"); !os.IsNotExist(err) {
		t.Fatal("partial file left behind")
	}
}

func TestEnsureVariantChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("corrupted payload"))
	}))
	defer srv.Close()

	m, err := NewManager(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	manifest := Manifest{Variants: map[string]Variant{"tiny": {
		File:   "ggml-tiny.bin",
		URL:    srv.URL + "/ggml-tiny.bin",
		SHA256: strings.Repeat("0", 64),
	}}}

	if _, err := m.EnsureVariant(context.Background(), "tiny", EnsureOptions{Manifest: manifest}); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
	if _, err := os.Stat(filepath.Join(m.Dir(), "ggml-tiny.bin")); !os.IsNotExist(err) {
		t.Fatal("mismatched download must not be kept")
	}
}

func TestEnsureVariantNoURL(t *testing.T) {
	m, err := NewManager(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	manifest := Manifest{Variants: map[string]Variant{"local": {File: "local.bin"}}}
	if _, err := m.EnsureVariant(context.Background(), "local", EnsureOptions{Manifest: manifest}); err == nil {
		t.Fatal("expected error for absent file without URL")
	}
}
