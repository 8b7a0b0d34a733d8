// Package textnorm folds free text from orders, invoices and bank statements
// into comparable forms and provides bounded fuzzy comparisons over it.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NameMaxDistance is the per-token edit distance NamesMatchClose allows.
// Only distance 1 has been validated against real customer data.
const NameMaxDistance = 1

// NormalizeStrict lowercases s and keeps only letters, digits and whitespace.
// Diacritics are preserved, so "Markovič" and "Markovic" stay distinct.
func NormalizeStrict(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return strings.TrimSpace(b.String())
}

// NormalizeLoose is NormalizeStrict with diacritics removed (NFKD, combining
// marks dropped). Used for phrase and status classification.
func NormalizeLoose(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	return NormalizeStrict(folded)
}

// WithinDistance reports whether the edit distance between a and b is at most
// max. Two empty strings are equal; an empty string is never close to a
// non-empty one.
func WithinDistance(a, b string, max int) bool {
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la-lb > max || lb-la > max {
		return false
	}
	return levenshtein.ComputeDistance(a, b) <= max
}

// FuzzyContains reports whether some substring of haystack is within maxDist
// edits of needle. Any such substring has a length within needle±maxDist, so
// this is the same as scanning every window of those lengths.
func FuzzyContains(haystack, needle string, maxDist int) bool {
	if haystack == "" || needle == "" {
		return false
	}
	if strings.Contains(haystack, needle) {
		return true
	}
	if maxDist <= 0 {
		return false
	}

	p := []rune(needle)
	// col[i] is the best distance of needle[:i] against any substring of
	// haystack ending at the current position.
	col := make([]int, len(p)+1)
	for i := range col {
		col[i] = i
	}
	for _, tr := range haystack {
		diag := col[0]
		for i := 1; i <= len(p); i++ {
			cost := 1
			if p[i-1] == tr {
				cost = 0
			}
			next := min(col[i]+1, col[i-1]+1, diag+cost)
			diag = col[i]
			col[i] = next
		}
		if col[len(p)] <= maxDist {
			return true
		}
	}
	return false
}

// NamesEqual compares two names after strict normalization. Names that
// normalize to nothing are never equal.
func NamesEqual(a, b string) bool {
	na := NormalizeStrict(a)
	return na != "" && na == NormalizeStrict(b)
}

// NamesMatchClose reports whether the first and the last whitespace-separated
// tokens of both strictly normalized names are each within NameMaxDistance
// edits. A single-token name uses that token as both first and last.
func NamesMatchClose(a, b string) bool {
	af, al, ok := firstLast(NormalizeStrict(a))
	if !ok {
		return false
	}
	bf, bl, ok := firstLast(NormalizeStrict(b))
	if !ok {
		return false
	}
	return WithinDistance(af, bf, NameMaxDistance) && WithinDistance(al, bl, NameMaxDistance)
}

func firstLast(s string) (string, string, bool) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return "", "", false
	}
	return parts[0], parts[len(parts)-1], true
}
