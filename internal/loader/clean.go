package loader

import (
	"regexp"
	"strings"
)

var (
	controlRe  = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	spaceRunRe = regexp.MustCompile(`[\s\p{Z}]+`)
	cjkPunctRe = regexp.MustCompile(`[\s\p{Z}]*([，。；：！？])[\s\p{Z}]*`)
)

// CleanText strips control characters, collapses whitespace runs into one
// space and leaves exactly one space after full-width punctuation.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = controlRe.ReplaceAllString(text, "")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = cjkPunctRe.ReplaceAllString(text, "$1 ")
	return strings.TrimSpace(text)
}
