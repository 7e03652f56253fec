// Package slug builds URL-safe identifiers from display names.
package slug

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fallback is used when a name has no usable characters.
const Fallback = "client"

// maxAttempts bounds the numeric suffix search in Unique.
const maxAttempts = 1000

// maxLength keeps slugs inside the indexed column width with room for a suffix.
const maxLength = 180

// Make lower-cases name, folds accents to ASCII and joins words with dashes.
func Make(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}

	out := strings.TrimRight(b.String(), "-")
	if len(out) > maxLength {
		out = strings.TrimRight(out[:maxLength], "-")
	}
	if out == "" {
		return Fallback
	}
	return out
}

// Unique returns Make(name), or the first "<slug>-N" (N >= 2) for which taken
// reports false.
func Unique(name string, taken func(candidate string) (bool, error)) (string, error) {
	base := Make(name)
	candidate := base
	for i := 2; i <= maxAttempts+1; i++ {
		exists, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", fmt.Errorf("no free slug for %q after %d attempts", base, maxAttempts)
}
