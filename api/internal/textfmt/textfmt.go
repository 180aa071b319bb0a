// Package textfmt cleans recognized text and escapes it for Telegram MarkdownV2.
package textfmt

import (
	"regexp"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

var (
	// RE2 \s is ASCII only; \v and \p{Z} cover NBSP and the Unicode separators.
	reBlankLines = regexp.MustCompile(`\n[\s\v\p{Z}]*\n`)
	reSpaces     = regexp.MustCompile(` {2,}`)
)

// Normalize trims the text, folds runs of blank lines into one blank line and
// squeezes repeated spaces.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = reBlankLines.ReplaceAllString(s, "\n\n")
	return reSpaces.ReplaceAllString(s, " ")
}

// reserved holds the MarkdownV2 characters that need a backslash, plus the
// backslash itself.
const reserved = "_[]()~`>#+-=|{}.!*\\"

func isReserved(r rune) bool { return r < utf8.RuneSelf && strings.ContainsRune(reserved, r) }

// EscapeMarkdownV2 prefixes every reserved character with a backslash. Run it
// exactly once, on normalized text.
func EscapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/8)
	for _, r := range s {
		if isReserved(r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Len counts s in UTF-16 code units, the unit of Telegram's message limit.
func Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeLen(r)
	}
	return n
}

func runeLen(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1 // U+FFFD for invalid UTF-8
}

// Fit returns the longest prefix of s whose escaped form is at most budget
// UTF-16 units long, and whether s was cut.
func Fit(s string, budget int) (string, bool) {
	used := 0
	for i, r := range s {
		w := runeLen(r)
		if isReserved(r) {
			w = 2
		}
		if used+w > budget {
			return s[:i], true
		}
		used += w
	}
	return s, false
}
