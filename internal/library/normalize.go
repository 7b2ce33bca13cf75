package library

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s, strips diacritics and punctuation, and collapses
// whitespace, so "Beyoncé - Halo (Official)" becomes "beyonce halo official".
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity is the number of words shared by a and b, counting a repeated
// word only as often as it occurs on both sides, over the longer word count.
// It is 0 when either side is empty after normalizing.
func Similarity(a, b string) float64 {
	wa := strings.Fields(Normalize(a))
	wb := strings.Fields(Normalize(b))
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	remaining := make(map[string]int, len(wb))
	for _, w := range wb {
		remaining[w]++
	}
	matches := 0
	for _, w := range wa {
		if remaining[w] > 0 {
			remaining[w]--
			matches++
		}
	}
	return float64(matches) / float64(max(len(wa), len(wb)))
}
