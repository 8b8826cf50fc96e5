// Package textnorm normalizes document text into the coordinate space that
// span and chunk offsets are expressed in, and caches normalized documents for
// the lifetime of one pipeline run.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// punctuation maps typographic quotes and dashes to their ASCII equivalents.
var punctuation = map[rune]rune{
	'’': '\'', // right single quote
	'‘': '\'', // left single quote
	'”': '"',  // right double quote
	'“': '"',  // left double quote
	'—': '-',  // em dash
	'–': '-',  // en dash
}

func mapPunctuation(r rune) rune {
	if m, ok := punctuation[r]; ok {
		return m
	}
	return r
}

// isSpace matches the whitespace class used by the offset producers, which
// also treats the ASCII separators U+001C..U+001F as whitespace.
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1C && r <= 0x1F)
}

// Normalize unifies curly quotes and dashes to ASCII, collapses every
// whitespace run to a single space and trims both ends. Every stage must use
// this exact function so that offsets remain comparable.
func Normalize(text string) string {
	mapped, _, err := transform.String(runes.Map(mapPunctuation), text)
	if err != nil {
		mapped = text
	}

	var b strings.Builder
	b.Grow(len(mapped))
	pendingSpace := false
	for _, r := range mapped {
		if isSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Trim strips leading and trailing whitespace using the same whitespace class
// as Normalize.
func Trim(s string) string {
	return strings.TrimFunc(s, isSpace)
}
