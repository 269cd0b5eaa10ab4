package validator

import (
	"strings"
	"unicode/utf8"
)

const (
	maxFilenameBytes = 255
	defaultFilename  = "upload"
)

// SanitizeFilename returns a name safe to echo back or store: no control
// characters, no path separators, no ".." sequences, no leading dots and at
// most 255 bytes. The result is never empty and SanitizeFilename is
// idempotent.
func SanitizeFilename(name string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r < 0x20:
			return -1
		case r == '/' || r == '\\':
			return '_'
		}
		return r
	}, name)

	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", "")
	}
	s = strings.TrimLeft(s, ".")
	s = truncateBytes(s, maxFilenameBytes)

	if strings.TrimSpace(s) == "" {
		return defaultFilename
	}
	return s
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
