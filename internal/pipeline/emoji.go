package pipeline

import (
	"strings"
	"unicode"
)

// EmojiPlaceholder replaces every pictograph before storage
const EmojiPlaceholder = 'X'

var pictographs = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x2300, Hi: 0x23ff, Stride: 1},
		{Lo: 0x2600, Hi: 0x27bf, Stride: 1},
		{Lo: 0x2b00, Hi: 0x2bff, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x1f000, Hi: 0x1faff, Stride: 1},
	},
}

// Joiners, variation selectors, skin tones and tags that extend a pictograph
var emojiModifiers = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200d, Hi: 0x200d, Stride: 1},
		{Lo: 0x20e3, Hi: 0x20e3, Stride: 1},
		{Lo: 0xfe0e, Hi: 0xfe0f, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x1f3fb, Hi: 0x1f3ff, Stride: 1},
		{Lo: 0xe0020, Hi: 0xe007f, Stride: 1},
	},
}

// ReplaceEmoji replaces each emoji sequence in s with EmojiPlaceholder.
// A ZWJ sequence such as a family emoji collapses into one placeholder.
func ReplaceEmoji(s string) string {
	if s == "" {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inEmoji := false
	joined := false
	for _, r := range s {
		switch {
		case inEmoji && unicode.Is(emojiModifiers, r):
			joined = r == 0x200d
		case unicode.Is(pictographs, r):
			if !(inEmoji && joined) {
				b.WriteRune(EmojiPlaceholder)
			}
			inEmoji, joined = true, false
		default:
			inEmoji, joined = false, false
			b.WriteRune(r)
		}
	}
	return b.String()
}
