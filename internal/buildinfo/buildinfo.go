package buildinfo

// Metadata captures static identifiers for the engine. Centralising the
// values keeps the daemon, CLI, and API responses consistent.
type Metadata struct {
	Name        string
	BinaryName  string
	Slug        string
	Description string
	Version     string
}

// Info describes the current build.
var Info = Metadata{
	Name:        "SecureVox STT Engine",
	BinaryName:  "securevoxd",
	Slug:        "securevox-stt",
	Description: "Local speech-to-text engine backed by Whisper.",
	Version:     "1.0.0",
}

// Version reports the engine version string.
func Version() string {
	return Info.Version
}
