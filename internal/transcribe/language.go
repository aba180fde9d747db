package transcribe

import "strings"

// NormalizeLanguage returns the language code to hand to the engine: the
// trimmed, lowercased candidate when present, otherwise the fallback,
// otherwise auto detection.
func NormalizeLanguage(candidate, fallback string) string {
	if trimmed := strings.ToLower(strings.TrimSpace(candidate)); trimmed != "" {
		return trimmed
	}
	if trimmed := strings.ToLower(strings.TrimSpace(fallback)); trimmed != "" {
		return trimmed
	}
	return "auto"
}
