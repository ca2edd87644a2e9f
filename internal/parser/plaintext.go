package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/docpipe/docpipe/internal/document"
	"github.com/docpipe/docpipe/internal/segment"
)

// PlainTextParser splits plain text into paragraph segments. Paragraph
// separators (runs of blank lines) are kept verbatim in the skeleton so the
// reconstructed document is byte-identical around the translated paragraphs.
type PlainTextParser struct{}

// separatorRx matches a newline followed by one or more blank lines.
var separatorRx = regexp.MustCompile(`\n(?:[ \t\r]*\n)+`)

func (p *PlainTextParser) Parse(content string) (*Result, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("document contains no translatable content")
	}

	root := document.NewElement("text", nil)
	var segs []*segment.Segment

	emit := func(para string) {
		if strings.TrimSpace(para) == "" {
			if para != "" {
				root.AppendChild(document.NewText(para))
			}
			return
		}
		order := len(segs) + 1
		seg := segment.New("", order, para, nil)
		seg.Format = segment.FormatMetadata{ParagraphIndex: order - 1}
		segs = append(segs, seg)
		root.AppendChild(document.NewSegmentRef(order))
	}

	prev := 0
	for _, loc := range separatorRx.FindAllStringIndex(content, -1) {
		emit(content[prev:loc[0]])
		root.AppendChild(document.NewText(content[loc[0]:loc[1]]))
		prev = loc[1]
	}
	emit(content[prev:])

	st := &document.Structure{Root: root}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("structure invariant violated: %w", err)
	}
	return &Result{Structure: st, Segments: segs, WordCount: totalWords(segs)}, nil
}
