package parser

import (
	"regexp"
	"strings"

	"github.com/docpipe/docpipe/internal/segment"
)

// placeholderStripRx removes special-token placeholders so they never count
// as words. A self-closing URL placeholder only ever stands in for an anchor
// whose display text is the href itself, so stripping it drops a bare URL,
// never translatable prose; the display text of other anchors stays in the
// segment and is counted normally.
var placeholderStripRx = regexp.MustCompile(`</?(?:INLINE|URL|IMG|BR)_\d+\s*/?>`)

// maskTokenStripRx removes sensitive-data mask tokens.
var maskTokenStripRx = regexp.MustCompile(`⟦SD:[^⟧]*⟧`)

func stripPlaceholders(text string) string {
	return placeholderStripRx.ReplaceAllString(text, " ")
}

// CountWords counts whitespace-separated words in segment text, ignoring
// placeholder and mask tokens.
func CountWords(text string) int {
	text = stripPlaceholders(text)
	text = maskTokenStripRx.ReplaceAllString(text, " ")
	return len(strings.Fields(text))
}

func totalWords(segs []*segment.Segment) int {
	total := 0
	for _, s := range segs {
		total += CountWords(s.SourceContent)
	}
	return total
}
