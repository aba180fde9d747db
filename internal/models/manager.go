package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Manager stores model files under <baseDir>/models.
type Manager struct {
	baseDir string
	log     *slog.Logger
	client  *http.Client
}

// EnsureOptions configures EnsureVariant.
type EnsureOptions struct {
	Manifest Manifest
	// Override, when set, must point at an existing model file and wins
	// over the manifest.
	Override string
}

// NewManager creates the models directory and returns a manager for it.
func NewManager(baseDir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(baseDir, "models")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("models: create %s: %w", dir, err)
	}
	return &Manager{
		baseDir: baseDir,
		log:     logger.With("component", "models.Manager"),
		client:  &http.Client{},
	}, nil
}

// Dir returns the directory model files live in.
func (m *Manager) Dir() string {
	return filepath.Join(m.baseDir, "models")
}

// Resolve maps a variant (or explicit override path) to a local file path
// without downloading anything.
func (m *Manager) Resolve(manifest Manifest, variant, override string) (string, error) {
	if strings.TrimSpace(override) != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("models: override %s: %w", override, err)
		}
		return override, nil
	}
	v, err := manifest.Variant(variant)
	if err != nil {
		return "", err
	}
	return filepath.Join(m.Dir(), v.File), nil
}

// EnsureVariant returns a local path for the variant, downloading the model
// file if it is not already present. Present files with a pinned checksum
// are re-verified before being trusted.
func (m *Manager) EnsureVariant(ctx context.Context, variant string, opts EnsureOptions) (string, error) {
	if strings.TrimSpace(opts.Override) != "" {
		if _, err := os.Stat(opts.Override); err != nil {
			return "", fmt.Errorf("models: override %s: %w", opts.Override, err)
		}
		return opts.Override, nil
	}

	v, err := opts.Manifest.Variant(variant)
	if err != nil {
		return "", err
	}
	path := filepath.Join(m.Dir(), v.File)

	if _, err := os.Stat(path); err == nil {
		if err := verifyChecksum(path, v.SHA256); err != nil {
			return "", err
		}
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("models: stat %s: %w", path, err)
	}

	if v.URL == "" {
		return "", fmt.Errorf("models: variant %q is not present locally and has no download URL", variant)
	}

	m.log.Info("downloading model", "variant", variant, "url", v.URL, "path", path)
	if err := m.download(ctx, v, path); err != nil {
		return "", err
	}
	return path, nil
}

func (m *Manager) download(ctx context.Context, v Variant, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.URL, nil)
	if err != nil {
		return fmt.Errorf("models: build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("models: fetch %s: %w", v.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("models: fetch %s: unexpected status %s", v.URL, resp.Status)
	}

	partial := path + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("models: create %s: %w", partial, err)
	}

	hash := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(f, hash), resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(partial)
		return fmt.Errorf("models: download %s: %w", v.URL, copyErr)
	}
	if closeErr != nil {
		os.Remove(partial)
		return fmt.Errorf("models: close %s: %w", partial, closeErr)
	}

	if v.SHA256 != "" {
		sum := hex.EncodeToString(hash.Sum(nil))
		if !strings.EqualFold(sum, v.SHA256) {
			os.Remove(partial)
			return fmt.Errorf("models: checksum mismatch for %s: got %s, want %s", v.File, sum, v.SHA256)
		}
	}

	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return fmt.Errorf("models: finalise %s: %w", path, err)
	}
	m.log.Info("model ready", "path", path)
	return nil
}

func verifyChecksum(path, want string) error {
	if want == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("models: open %s: %w", path, err)
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return fmt.Errorf("models: hash %s: %w", path, err)
	}
	sum := hex.EncodeToString(hash.Sum(nil))
	if !strings.EqualFold(sum, want) {
		return fmt.Errorf("models: checksum mismatch for %s: got %s, want %s", path, sum, want)
	}
	return nil
}
