package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

const (
	katakanaFirst = 'ァ'
	katakanaLast  = 'ン'
	kanaOffset    = 0x60
)

// Normalize folds full-width ASCII letters and digits to half-width, katakana
// to hiragana, and drops all whitespace. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			continue
		case r >= katakanaFirst && r <= katakanaLast:
			b.WriteRune(r - kanaOffset)
		default:
			b.WriteRune(foldAlnum(r))
		}
	}
	return b.String()
}

// foldAlnum maps Ａ-Ｚ, ａ-ｚ and ０-９ to their ASCII forms and leaves every
// other rune alone, including full-width punctuation.
func foldAlnum(r rune) rune {
	p := width.LookupRune(r)
	if p.Kind() != width.EastAsianFullwidth {
		return r
	}
	n := p.Narrow()
	if n == 0 || n > unicode.MaxASCII {
		return r
	}
	if ('0' <= n && n <= '9') || ('a' <= n && n <= 'z') || ('A' <= n && n <= 'Z') {
		return n
	}
	return r
}
