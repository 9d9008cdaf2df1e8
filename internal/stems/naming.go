package stems

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Stem files on disk follow `<display_name>_<stem_type>.<ext>`. The stem type
// is the token after the last underscore; display names may themselves contain
// underscores.

// Known stem types, matching what the separation engine can emit.
var knownStemTypes = map[string]struct{}{
	"vocals":        {},
	"drums":         {},
	"bass":          {},
	"guitar":        {},
	"piano":         {},
	"other":         {},
	"instrumental":  {},
	"synth":         {},
	"strings":       {},
	"melody":        {},
	"accompaniment": {},
	"percussion":    {},
	"lead":          {},
	"background":    {},
	"original":      {},
}

// extPreference orders audio extensions from most to least preferred when the
// same stem exists in several formats (compressed first).
var extPreference = []string{".mp3", ".ogg", ".m4a", ".flac", ".wav"}

// IsKnownStemType reports whether name is a recognized stem type.
func IsKnownStemType(name string) bool {
	_, ok := knownStemTypes[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// KnownStemTypes returns the recognized stem types in unspecified order.
func KnownStemTypes() []string {
	out := make([]string, 0, len(knownStemTypes))
	for name := range knownStemTypes {
		out = append(out, name)
	}
	return out
}

// FileName formats the canonical file name for a stem.
func FileName(displayName, stemType, ext string) string {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s_%s%s", SanitizeDisplayName(displayName), strings.ToLower(stemType), ext)
}

// ParseFileName splits a stem file name into display name and stem type.
// The second return is false when the suffix is not a recognized stem type.
func ParseFileName(fileName string) (displayName, stemType string, ok bool) {
	base := filepath.Base(fileName)
	ext := filepath.Ext(base)
	trimmed := strings.TrimSuffix(base, ext)

	idx := strings.LastIndex(trimmed, "_")
	if idx <= 0 || idx == len(trimmed)-1 {
		return "", "", false
	}
	candidate := strings.ToLower(trimmed[idx+1:])
	if !IsKnownStemType(candidate) {
		return "", "", false
	}
	return trimmed[:idx], candidate, true
}

// PreferExt reports whether candidate is a better format choice than current
// according to the compressed-first preference order. Unknown extensions lose
// to known ones.
func PreferExt(candidate, current string) bool {
	return extRank(candidate) < extRank(current)
}

func extRank(ext string) int {
	ext = strings.ToLower(ext)
	for i, known := range extPreference {
		if ext == known {
			return i
		}
	}
	return len(extPreference)
}

// SanitizeDisplayName reduces an arbitrary title to a name safe for the
// on-disk convention: NFC-normalized, underscores for separators, no
// characters that would collide with the stem-type delimiter parsing.
func SanitizeDisplayName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "untitled"
	}
	var b strings.Builder
	prevSep := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			prevSep = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			if !prevSep && b.Len() > 0 {
				b.WriteRune('_')
				prevSep = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "untitled"
	}
	return out
}

// DeriveDisplayName produces a human-readable title from a source path or
// resolved title.
func DeriveDisplayName(source string) string {
	if source == "" {
		return "Untitled"
	}
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	var b strings.Builder
	prevSpace := false
	for _, r := range base {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			if !prevSpace {
				b.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	title := strings.TrimSpace(b.String())
	if title == "" {
		return "Untitled"
	}
	return cases.Title(language.Und).String(title)
}
