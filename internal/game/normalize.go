package game

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// significantTokenLen is the minimum rune length of a token that counts on its own
// in loose matching.
const significantTokenLen = 3

// Normalize folds s for answer comparison: diacritics stripped, lower-cased,
// punctuation replaced by spaces and whitespace collapsed.
func Normalize(s string) string {
	// transform.Chain carries state, so it is built per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	folded = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

// matchAny reports whether the normalized guess equals any normalized candidate.
func matchAny(guess string, candidates ...string) bool {
	g := Normalize(guess)
	if g == "" {
		return false
	}
	for _, c := range candidates {
		if c = Normalize(c); c != "" && c == g {
			return true
		}
	}
	return false
}

// matchLoose accepts the full target, any single target token of at least
// three runes, or a guess containing such a token.
//
// This is intentionally loose: "the" in a target title matches any guess
// containing "the". Kept for compatibility with how players already answer.
func matchLoose(guess, target string) bool {
	g := Normalize(guess)
	t := Normalize(target)
	if g == "" || t == "" {
		return false
	}
	if g == t {
		return true
	}
	for _, tok := range strings.Fields(t) {
		if utf8.RuneCountInString(tok) < significantTokenLen {
			continue
		}
		if g == tok || strings.Contains(g, tok) {
			return true
		}
	}
	return false
}

// maskWords keeps the first letter of every word and blanks the rest.
func maskWords(s string) string {
	words := strings.Fields(s)
	out := make([]string, 0, len(words))
	for _, w := range words {
		var b strings.Builder
		first := true
		for _, r := range w {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			switch {
			case first:
				b.WriteRune(r)
				first = false
			case unicode.IsLetter(r) || unicode.IsDigit(r):
				b.WriteByte('_')
			default:
				b.WriteRune(r)
			}
		}
		out = append(out, b.String())
	}
	return strings.Join(out, "   ")
}
