// Package keynorm turns raw part identifiers into canonical matching keys.
//
// The same transform is used when storing a catalogue item's search key and
// when comparing current and reference identifiers during EOL reconciliation,
// so that "ABC 123 & DEF" and " abc-123, def " resolve to the same item.
package keynorm

import (
	"regexp"
	"strings"
	"unicode"
)

// space matches the same runes as unicode.IsSpace, so NBSP and \v from
// spreadsheet exports behave like an ASCII space.
const space = `[\s\v\x{85}\p{Z}]`

var (
	spaceAroundComma = regexp.MustCompile(space + `*,` + space + `*`)
	whitespaceRun    = regexp.MustCompile(space + `+`)
	dashRun          = regexp.MustCompile(`-+`)
)

// Normalize returns the canonical form of s, preserving case:
// trim, '&' becomes ',', whitespace around commas is removed, remaining
// whitespace runs become '-', repeated '-' collapse, and leading/trailing
// '-' or ',' are stripped.
//
// Normalize is idempotent. An empty result means "no key".
func Normalize(s string) string {
	s = strings.TrimFunc(s, unicode.IsSpace)
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "&", ",")
	s = spaceAroundComma.ReplaceAllString(s, ",")
	s = whitespaceRun.ReplaceAllString(s, "-")
	s = dashRun.ReplaceAllString(s, "-")
	return strings.Trim(s, "-,")
}

// MatchKey is the case-folded key used for cross-snapshot comparison.
func MatchKey(s string) string {
	return strings.ToUpper(Normalize(s))
}

// FirstKey returns the match key of the first candidate that yields a
// non-empty key, e.g. MPN falling back to SKU.
func FirstKey(candidates ...string) string {
	for _, c := range candidates {
		if k := MatchKey(c); k != "" {
			return k
		}
	}
	return ""
}
