// Package contentid derives canonical deduplication identifiers from
// source references.
package contentid

import (
	"regexp"
	"strings"
)

// Source reference shapes are matched in order; the first hit wins.
// References that match nothing are not eligible for deduplication
// (raw uploads, local paths).
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/v/)([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/shorts/([a-zA-Z0-9_-]{11})`),
}

// Canonicalize extracts the dedup content identifier from a source reference.
// The second return is false when the reference is not dedup-eligible.
func Canonicalize(sourceRef string) (string, bool) {
	sourceRef = strings.TrimSpace(sourceRef)
	if sourceRef == "" {
		return "", false
	}
	for _, pattern := range patterns {
		if match := pattern.FindStringSubmatch(sourceRef); match != nil {
			return match[1], true
		}
	}
	return "", false
}

// IsValid reports whether id has the shape of a canonical content identifier.
func IsValid(id string) bool {
	if len(id) != 11 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
