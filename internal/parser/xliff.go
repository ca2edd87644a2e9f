package parser

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/docpipe/docpipe/internal/document"
	"github.com/docpipe/docpipe/internal/segment"
)

// XLIFFParser extracts the inner content of every <source> element as a
// segment. The skeleton stores everything outside those spans as literal
// text, byte-for-byte, so reconstruction only ever touches the translated
// spans. Inner XML of a source (inline <g>/<x/> markers) travels with the
// segment verbatim.
type XLIFFParser struct{}

func (p *XLIFFParser) Parse(content string) (*Result, error) {
	spans, err := sourceSpans(content)
	if err != nil {
		return nil, fmt.Errorf("parse xliff: %w", err)
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("document contains no translatable content")
	}

	root := document.NewElement("document", nil)
	var segs []*segment.Segment
	prev := 0
	for _, sp := range spans {
		inner := content[sp.start:sp.end]
		if strings.TrimSpace(inner) == "" {
			continue
		}
		if sp.start > prev {
			root.AppendChild(document.NewText(content[prev:sp.start]))
		}
		order := len(segs) + 1
		seg := segment.New("", order, inner, nil)
		seg.Format = segment.FormatMetadata{ContainerTag: "source", ParagraphIndex: order - 1}
		segs = append(segs, seg)
		root.AppendChild(document.NewSegmentRef(order))
		prev = sp.end
	}
	if prev < len(content) {
		root.AppendChild(document.NewText(content[prev:]))
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("document contains no translatable content")
	}

	st := &document.Structure{Root: root}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("structure invariant violated: %w", err)
	}
	return &Result{Structure: st, Segments: segs, WordCount: totalWords(segs)}, nil
}

type span struct {
	start, end int
}

// sourceSpans locates the byte range of each top-level <source> element's
// inner content using decoder offsets, without re-serializing any XML.
func sourceSpans(content string) ([]span, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var spans []span
	depth := 0          // nesting depth of <source> elements
	contentStart := 0   // offset just past the opening <source> tag
	for {
		offset := int(dec.InputOffset())
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "source" {
				depth++
				if depth == 1 {
					contentStart = int(dec.InputOffset())
				}
			}
		case xml.EndElement:
			if t.Name.Local == "source" {
				depth--
				if depth == 0 {
					spans = append(spans, span{start: contentStart, end: offset})
				}
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced source elements")
	}
	return spans, nil
}
