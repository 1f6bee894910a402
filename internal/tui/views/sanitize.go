package views

import (
	"strings"
	"unicode/utf8"
)

// sanitizeForTerminal drops codepoints that tcell renders at the wrong
// width or that can rewrite the terminal: skin tone modifiers, zero width
// joiners, variation selectors, bidi overrides and C0 controls other than
// newline. Tabs become spaces.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == '\t':
			b.WriteString("    ")
		case r == utf8.RuneError && size == 1:
		case isProblematicRune(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isProblematicRune(r rune) bool {
	switch {
	case r < 0x20 && r != '\n', r == 0x7F:
		return true
	// Skin tone modifiers.
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	// Bidi embeddings, overrides and isolates.
	case r >= 0x202A && r <= 0x202E, r >= 0x2066 && r <= 0x2069:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}
