// Package parser turns source documents into an ordered list of translatable
// segments plus an OriginalStructure skeleton, and reassembles the final
// document from the two. One parser exists per task type; all of them emit
// the same Result shape so the pipeline stages stay format-agnostic.
package parser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/docpipe/docpipe/internal/document"
	"github.com/docpipe/docpipe/internal/segment"
	"github.com/docpipe/docpipe/internal/task"
	"github.com/docpipe/docpipe/internal/tokenvault"
)

// Result is the output of one parse: the skeleton and the extracted segments
// in document order. Segment TaskID fields are left empty; the caller owns
// the association.
type Result struct {
	Structure *document.Structure
	Segments  []*segment.Segment
	WordCount int
}

// Parser extracts segments and a structure skeleton from raw source content.
type Parser interface {
	Parse(content string) (*Result, error)
}

// ForType returns the parser for a task type.
func ForType(t task.Type) (Parser, error) {
	switch t {
	case task.TypeHTML, task.TypeEmail:
		return &HTMLParser{}, nil
	case task.TypePlainText:
		return &PlainTextParser{}, nil
	case task.TypeXLIFF:
		return &XLIFFParser{}, nil
	}
	return nil, fmt.Errorf("no parser for task type %q", t)
}

// blockTags are the tags that may form a leaf block.
var blockTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "li": true, "blockquote": true, "td": true, "th": true,
	"div": true,
}

// tableStructuralTags are never leaf blocks even when textually terminal.
var tableStructuralTags = map[string]bool{
	"table": true, "thead": true, "tbody": true, "tfoot": true, "tr": true,
	"colgroup": true, "col": true,
}

// skippedTags contribute nothing to structure or segments.
var skippedTags = map[string]bool{
	"script": true, "style": true, "meta": true, "link": true, "head": true,
	"title": true, "noscript": true, "template": true, "base": true,
}

// HTMLParser handles HTML documents and HTML email bodies.
type HTMLParser struct{}

// Parse walks the document tree depth-first. A node is a leaf block when it
// carries a block-level tag and none of its descendants do — the deepest
// block-level ancestor of any text run. Each leaf block becomes one segment;
// everything else is recorded in the skeleton.
func (p *HTMLParser) Parse(content string) (*Result, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	body := findElement(doc, "body")
	if body == nil {
		return nil, fmt.Errorf("document has no body")
	}

	w := &htmlWalker{}
	root := document.NewElement("body", htmlAttrs(body))
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if n := w.walk(c); n != nil {
			root.AppendChild(n)
		}
	}

	// A document with no block-level descendants is one segment: the whole
	// body.
	if len(w.segments) == 0 {
		text, tokens := tokenvault.Tokenize(body)
		if strings.TrimSpace(stripPlaceholders(text)) == "" && len(tokens) == 0 {
			return nil, fmt.Errorf("document contains no translatable content")
		}
		seg := segment.New("", 1, text, tokens)
		seg.Format = segment.FormatMetadata{ContainerTag: "body"}
		root = document.NewElement("body", htmlAttrs(body), document.NewSegmentRef(1))
		w.segments = []*segment.Segment{seg}
	}

	st := &document.Structure{Root: root}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("structure invariant violated: %w", err)
	}
	return &Result{
		Structure: st,
		Segments:  w.segments,
		WordCount: totalWords(w.segments),
	}, nil
}

type htmlWalker struct {
	segments []*segment.Segment
}

func (w *htmlWalker) walk(n *html.Node) *document.Node {
	switch n.Type {
	case html.TextNode:
		return document.NewText(escapeText(n.Data))
	case html.CommentNode:
		// Comments are non-translatable literals; keep them byte-faithful.
		return document.NewText("<!--" + n.Data + "-->")
	case html.ElementNode:
		// handled below
	default:
		return nil
	}

	if skippedTags[n.Data] {
		return nil
	}

	if w.isLeafBlock(n) {
		order := len(w.segments) + 1
		text, tokens := tokenvault.Tokenize(n)
		if strings.TrimSpace(stripPlaceholders(text)) == "" && len(tokens) == 0 {
			// An empty block is skeleton, not a segment.
			return w.walkElement(n)
		}
		seg := segment.New("", order, text, tokens)
		seg.Format = formatMetadataFor(n)
		w.segments = append(w.segments, seg)
		return document.NewElement(n.Data, htmlAttrs(n), document.NewSegmentRef(order))
	}

	return w.walkElement(n)
}

func (w *htmlWalker) walkElement(n *html.Node) *document.Node {
	el := document.NewElement(n.Data, htmlAttrs(n))
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if child := w.walk(c); child != nil {
			el.AppendChild(child)
		}
	}
	return el
}

func (w *htmlWalker) isLeafBlock(n *html.Node) bool {
	if !blockTags[n.Data] || tableStructuralTags[n.Data] {
		return false
	}
	return !hasBlockDescendant(n)
}

func hasBlockDescendant(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			if blockTags[c.Data] || tableStructuralTags[c.Data] {
				return true
			}
			if hasBlockDescendant(c) {
				return true
			}
		}
	}
	return false
}

// formatMetadataFor records the container tag and, for table cells, the
// zero-based row and column position.
func formatMetadataFor(n *html.Node) segment.FormatMetadata {
	md := segment.FormatMetadata{ContainerTag: n.Data}
	if n.Data != "td" && n.Data != "th" {
		return md
	}
	row := n.Parent
	if row == nil || row.Data != "tr" {
		return md
	}
	for c := row.FirstChild; c != nil && c != n; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			md.TableCol++
		}
	}
	for r := row.PrevSibling; r != nil; r = r.PrevSibling {
		if r.Type == html.ElementNode && r.Data == "tr" {
			md.TableRow++
		}
	}
	return md
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func htmlAttrs(n *html.Node) []document.Attr {
	if len(n.Attr) == 0 {
		return nil
	}
	attrs := make([]document.Attr, 0, len(n.Attr))
	for _, a := range n.Attr {
		attrs = append(attrs, document.Attr{Key: a.Key, Val: a.Val})
	}
	return attrs
}

// escapeText escapes the characters that would change markup meaning.
// Structure text nodes store output-ready text and render verbatim.
var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeText(s string) string {
	return textEscaper.Replace(s)
}
