package chunker

import "unicode"

// WeightedLength measures text for chunk sizing. Each CJK ideograph
// (U+4E00..U+9FFF) counts 1, ASCII letters count one per started pair and any
// other non-space rune counts 1. Whitespace is not counted.
func WeightedLength(text string) int {
	var cjk, latin, other int
	for _, r := range text {
		switch {
		case r >= 0x4e00 && r <= 0x9fff:
			cjk++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin++
		case unicode.IsSpace(r):
		default:
			other++
		}
	}
	return cjk + other + (latin+1)/2
}
