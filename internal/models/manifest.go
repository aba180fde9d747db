// Package models resolves model variants to local files, downloading them
// from the manifest's source when they are not present yet.
package models

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed manifest.yaml
var embeddedManifest []byte

// Variant describes one downloadable model build.
type Variant struct {
	File string `yaml:"file"`
	URL  string `yaml:"url"`
	// SHA256 pins the file contents; empty skips verification.
	SHA256 string `yaml:"sha256,omitempty"`
}

// Manifest maps variant names (tiny, base, ...) to model builds.
type Manifest struct {
	Variants map[string]Variant `yaml:"variants"`
}

// DefaultManifest parses the manifest compiled into the binary.
func DefaultManifest() (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(embeddedManifest, &m); err != nil {
		return Manifest{}, fmt.Errorf("models: decode embedded manifest: %w", err)
	}
	if len(m.Variants) == 0 {
		return Manifest{}, fmt.Errorf("models: embedded manifest is empty")
	}
	return m, nil
}

// Variant looks up one entry by name.
func (m Manifest) Variant(name string) (Variant, error) {
	v, ok := m.Variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("models: unknown variant %q", name)
	}
	if v.File == "" {
		return Variant{}, fmt.Errorf("models: variant %q has no file name", name)
	}
	return v, nil
}
