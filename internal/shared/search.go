package shared

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SearchKey folds the given parts into a lower-case, accent-free string so
// that "Café" and "cafe" match the same LIKE pattern.
func SearchKey(parts ...string) string {
	joined := strings.Join(nonEmpty(parts), " ")
	if joined == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), cases.Fold(), norm.NFC)
	out, _, err := transform.String(t, joined)
	if err != nil {
		return strings.ToLower(joined)
	}
	return strings.Join(strings.Fields(out), " ")
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
