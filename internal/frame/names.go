package frame

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName turns a free-form header into a lower-case identifier made of
// [a-z0-9_]. Accented letters are folded to their base letter, separators
// collapse into a single underscore and everything else is dropped.
func NormalizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// The chain is stateful, so build one per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r) || strings.ContainsRune("-./\\:;,", r):
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		}
	}
	return strings.Trim(b.String(), "_")
}

// IdentityNames maps every name to itself.
func IdentityNames(names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = n
	}
	return out
}

// NormalizedNames maps every name to its NormalizeName form. Collisions and
// names that normalize to nothing get a positional suffix so the result stays
// injective.
func NormalizedNames(names []string) map[string]string {
	out := make(map[string]string, len(names))
	used := make(map[string]bool, len(names))
	for i, n := range names {
		base := NormalizeName(n)
		if base == "" {
			base = "col_" + strconv.Itoa(i+1)
		}
		cand := base
		for k := 2; used[cand]; k++ {
			cand = base + "_" + strconv.Itoa(k)
		}
		used[cand] = true
		out[n] = cand
	}
	return out
}
