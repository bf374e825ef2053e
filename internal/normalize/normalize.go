// Package normalize collapses the whitespace and control-character noise that
// text extraction leaves behind into a canonical form.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	trailingBlankRe = regexp.MustCompile(`[ \t]+\n`)
	blankRunRe      = regexp.MustCompile(`\n{3,}`)
	spaceRunRe      = regexp.MustCompile(`[ \t]{2,}`)
)

// Text returns the canonical form of s:
//   - control characters other than '\n' and '\t' become a single space
//   - horizontal whitespace before a line break is dropped
//   - three or more consecutive line breaks become exactly two
//   - runs of two or more spaces/tabs become one space
//   - leading and trailing whitespace is removed
//
// Text is total and idempotent.
func Text(s string) string {
	if s == "" {
		return ""
	}
	s = strings.Map(replaceControl, s)
	s = trailingBlankRe.ReplaceAllString(s, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	s = spaceRunRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func replaceControl(r rune) rune {
	if r == '\n' || r == '\t' {
		return r
	}
	if unicode.IsControl(r) {
		return ' '
	}
	return r
}
