package invidx

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits on non-letter/digit runes. There is no
// stemming and no stop-word removal: tokens match verbatim after
// case-folding, per the chunk schema.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	return strings.FieldsFunc(text, func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c)
	})
}
