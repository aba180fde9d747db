package buildinfo

import "testing"

func TestInfo(t *testing.T) {
	if Version() == "" {
		t.Fatal("Version() returned empty string")
	}
	if Version() != Info.Version {
		t.Fatalf("Version() mismatch: got %q want %q", Version(), Info.Version)
	}
	if Info.BinaryName == "" || Info.Slug == "" {
		t.Fatalf("incomplete metadata: %+v", Info)
	}
}
