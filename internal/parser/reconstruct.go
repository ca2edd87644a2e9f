package parser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/docpipe/docpipe/internal/document"
	"github.com/docpipe/docpipe/internal/segment"
	"github.com/docpipe/docpipe/internal/tokenvault"
)

// voidTags render without a closing tag.
var voidTags = map[string]bool{
	"br": true, "img": true, "hr": true, "input": true, "area": true,
	"base": true, "col": true, "embed": true, "source": true, "track": true,
	"wbr": true, "meta": true, "link": true,
}

// wrapperTags are whole-document containers whose children render directly,
// flattening the wrapper.
var wrapperTags = map[string]bool{
	"body": true, "html": true, "document": true, "text": true,
}

// Reconstruct is the inverse of Parse: it renders the structure skeleton with
// every segment reference replaced by the segment's current content, special
// tokens restored to their original markup. Substitution is keyed strictly by
// the segment order recorded during parsing, never by text matching, so
// structurally identical blocks cannot shadow each other. A missing segment
// renders as an empty string to tolerate partial pipelines; a placeholder
// with no token entry is a hard failure.
func Reconstruct(st *document.Structure, segments []*segment.Segment) (string, error) {
	if st == nil || st.Root == nil {
		return "", document.ErrEmptyStructure
	}
	byOrder := make(map[int]*segment.Segment, len(segments))
	for _, s := range segments {
		byOrder[s.Order] = s
	}

	var b strings.Builder
	root := st.Root
	if root.Kind == document.KindElement && wrapperTags[root.Tag] {
		for _, c := range root.Children {
			if err := renderNode(&b, c, byOrder); err != nil {
				return "", err
			}
		}
		return b.String(), nil
	}
	if err := renderNode(&b, root, byOrder); err != nil {
		return "", err
	}
	return b.String(), nil
}

func renderNode(b *strings.Builder, n *document.Node, byOrder map[int]*segment.Segment) error {
	switch n.Kind {
	case document.KindText:
		b.WriteString(n.Text)
		return nil

	case document.KindSegmentRef:
		seg, ok := byOrder[n.SegmentOrder]
		if !ok {
			return nil
		}
		restored, err := tokenvault.Detokenize(seg.CurrentContent(), seg.Tokens)
		if err != nil {
			return fmt.Errorf("segment %d: %w", n.SegmentOrder, err)
		}
		b.WriteString(restored)
		return nil

	case document.KindElement:
		b.WriteByte('<')
		b.WriteString(n.Tag)
		for _, a := range n.Attrs {
			fmt.Fprintf(b, ` %s="%s"`, a.Key, html.EscapeString(a.Val))
		}
		if voidTags[n.Tag] && len(n.Children) == 0 {
			b.WriteString("/>")
			return nil
		}
		b.WriteByte('>')
		for _, c := range n.Children {
			if err := renderNode(b, c, byOrder); err != nil {
				return err
			}
		}
		fmt.Fprintf(b, "</%s>", n.Tag)
		return nil
	}
	return fmt.Errorf("unknown node kind %q", n.Kind)
}
