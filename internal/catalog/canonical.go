package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// CanonicalKey folds every textual encoding of a group name onto one key. "Film Development
// Format", "film-development-format", "film_development_format" and "film--development---format"
// all map to "film-development-format". Rule keys and selection keys are canonicalized once at load.
func CanonicalKey(name string) string {
	folded := cases.Fold().String(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range folded {
		if isKeySeparator(r) {
			pendingSep = true
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('-')
		}
		pendingSep = false
		b.WriteRune(r)
	}
	return b.String()
}

func isKeySeparator(r rune) bool {
	return r == '-' || r == '_' || unicode.IsSpace(r)
}

// NormalizeValue prepares an option value for case-insensitive, whitespace-trimmed comparison.
func NormalizeValue(value string) string {
	return cases.Fold().String(strings.TrimSpace(value))
}

// OptionID returns the stable identifier of an option within its cluster.
func OptionID(clusterKey, value string) string {
	return clusterKey + "/" + NormalizeValue(value)
}

// InputID returns the DOM input id the storefront renders for an option.
func InputID(clusterKey, value string) string {
	return "opt-" + clusterKey + "-" + CanonicalKey(value)
}
