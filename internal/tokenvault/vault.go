// Package tokenvault encodes inline markup fragments as opaque placeholder
// tokens inside segment text, and restores them after translation. The
// placeholder grammar is deliberately alien to natural language so machine
// translation passes it through untouched:
//
//	<INLINE_1>text</INLINE_1>   formatting span, inner text stays translatable
//	<URL_1>link text</URL_1>    anchor with translatable display text
//	<URL_2/>                    anchor whose text was just the href itself
//	<IMG_1/> <BR_1/>            self-closing images and line breaks
package tokenvault

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/docpipe/docpipe/internal/segment"
)

// ErrUnknownToken is wrapped when translated text contains a placeholder with
// no entry in the token map. This is a data error: parsing and masking were
// inconsistent.
var ErrUnknownToken = errors.New("placeholder has no token map entry")

// ErrUnterminatedToken is wrapped when a paired placeholder has an opening
// tag but no matching close.
var ErrUnterminatedToken = errors.New("unterminated paired placeholder")

// inlineTags are formatting elements that become generic INLINE placeholders.
var inlineTags = map[string]bool{
	"b": true, "i": true, "u": true, "em": true, "strong": true,
	"span": true, "small": true, "sub": true, "sup": true, "code": true,
	"s": true, "strike": true, "mark": true, "abbr": true, "font": true,
}

// Tokenize renders the children of a leaf block into tokenized plain content.
// Every inline element is replaced by a placeholder and described by an entry
// in the returned token map; plain text passes through verbatim.
func Tokenize(block *html.Node) (string, map[string]segment.SpecialToken) {
	enc := &encoder{
		tokens:   make(map[string]segment.SpecialToken),
		counters: make(map[string]int),
	}
	var b strings.Builder
	for c := block.FirstChild; c != nil; c = c.NextSibling {
		enc.encode(&b, c)
	}
	return b.String(), enc.tokens
}

type encoder struct {
	tokens   map[string]segment.SpecialToken
	counters map[string]int
}

// next allocates the next placeholder id for a prefix, e.g. "INLINE_2".
func (e *encoder) next(prefix string) string {
	e.counters[prefix]++
	return fmt.Sprintf("%s_%d", prefix, e.counters[prefix])
}

func (e *encoder) encode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		// Segment text renders verbatim on reconstruction, so literal text
		// stays entity-encoded; only placeholders are emitted raw.
		b.WriteString(escapeText(n.Data))
	case html.ElementNode:
		e.encodeElement(b, n)
	}
	// Comments and other node types contribute nothing to segment text.
}

func (e *encoder) encodeElement(b *strings.Builder, n *html.Node) {
	switch n.Data {
	case "br":
		id := e.next("BR")
		e.tokens[id] = segment.SpecialToken{
			ID:            id,
			Type:          segment.TokenLineBreak,
			SourceContent: render(n),
			SelfClosing:   true,
		}
		fmt.Fprintf(b, "<%s/>", id)

	case "img":
		id := e.next("IMG")
		e.tokens[id] = segment.SpecialToken{
			ID:            id,
			Type:          segment.TokenImage,
			SourceContent: render(n),
			Src:           attrVal(n, "src"),
			Alt:           attrVal(n, "alt"),
			SelfClosing:   true,
		}
		fmt.Fprintf(b, "<%s/>", id)

	case "a":
		e.encodeAnchor(b, n)

	default:
		// Formatting spans and anything else inline-shaped collapse to a
		// generic INLINE placeholder. The inner content stays in the segment
		// so the translator still sees it.
		id := e.next("INLINE")
		e.tokens[id] = segment.SpecialToken{
			ID:            id,
			Type:          segment.TokenInline,
			SourceContent: render(n),
			Tag:           n.Data,
			Attrs:         tokenAttrs(n),
		}
		fmt.Fprintf(b, "<%s>", id)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			e.encode(b, c)
		}
		fmt.Fprintf(b, "</%s>", id)
	}
}

// encodeAnchor classifies an anchor element. When the anchor text already is
// the href (a literal URL pasted as its own link text) there is nothing to
// translate, so the anchor collapses to a self-closing placeholder. Otherwise
// the display text is kept inline for the translator.
func (e *encoder) encodeAnchor(b *strings.Builder, n *html.Node) {
	id := e.next("URL")
	href := attrVal(n, "href")
	display := textContent(n)
	tok := segment.SpecialToken{
		ID:            id,
		Type:          segment.TokenURL,
		SourceContent: render(n),
		Href:          href,
		DisplayText:   display,
	}
	if strings.TrimSpace(display) == href {
		tok.SelfClosing = true
		e.tokens[id] = tok
		fmt.Fprintf(b, "<%s/>", id)
		return
	}
	e.tokens[id] = tok
	fmt.Fprintf(b, "<%s>%s</%s>", id, escapeText(display), id)
}

// escapeText entity-encodes the characters that would read as markup once the
// segment is rendered back into the document.
var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

// placeholderRx matches any placeholder opening or self-closing marker.
var placeholderRx = regexp.MustCompile(`<(INLINE|URL|IMG|BR)_(\d+)(\s*/)?>`)

// Detokenize restores the original markup for every placeholder referenced in
// text. A token with no placeholder left in the text is silently dropped — a
// translator may legitimately omit a formatting span. A placeholder with no
// token map entry is an error.
func Detokenize(text string, tokens map[string]segment.SpecialToken) (string, error) {
	var b strings.Builder
	rest := text
	for {
		loc := placeholderRx.FindStringSubmatchIndex(rest)
		if loc == nil {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:loc[0]])

		id := rest[loc[2]:loc[3]] + "_" + rest[loc[4]:loc[5]]
		selfClosing := loc[6] != -1
		tok, ok := tokens[id]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownToken, id)
		}

		if selfClosing || tok.SelfClosing {
			b.WriteString(restoreSelfClosing(tok))
			rest = rest[loc[1]:]
			continue
		}

		closeMark := fmt.Sprintf("</%s>", id)
		after := rest[loc[1]:]
		end := strings.Index(after, closeMark)
		if end < 0 {
			return "", fmt.Errorf("%w: %s", ErrUnterminatedToken, id)
		}
		inner, err := Detokenize(after[:end], tokens)
		if err != nil {
			return "", err
		}
		b.WriteString(restorePaired(tok, inner))
		rest = after[end+len(closeMark):]
	}
}

// restoreSelfClosing rebuilds the markup for a placeholder that carries no
// inner text. URL tokens are rebuilt from stored href and display text; the
// rest restore their original source verbatim.
func restoreSelfClosing(tok segment.SpecialToken) string {
	if tok.Type == segment.TokenURL {
		return fmt.Sprintf(`<a href="%s">%s</a>`,
			html.EscapeString(tok.Href), html.EscapeString(tok.DisplayText))
	}
	return tok.SourceContent
}

// restorePaired wraps the (possibly translated) inner text in the token's
// original element. When the inner text is unchanged this reproduces the
// original markup exactly.
func restorePaired(tok segment.SpecialToken, inner string) string {
	if tok.Type == segment.TokenURL {
		return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(tok.Href), inner)
	}
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(tok.Tag)
	for _, a := range tok.Attrs {
		fmt.Fprintf(&b, ` %s="%s"`, a.Key, html.EscapeString(a.Val))
	}
	b.WriteByte('>')
	b.WriteString(inner)
	fmt.Fprintf(&b, "</%s>", tok.Tag)
	return b.String()
}

// render serializes a node back to markup.
func render(n *html.Node) string {
	var b strings.Builder
	_ = html.Render(&b, n)
	return b.String()
}

// textContent concatenates the text of n's descendants.
func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func tokenAttrs(n *html.Node) []segment.Attr {
	if len(n.Attr) == 0 {
		return nil
	}
	attrs := make([]segment.Attr, 0, len(n.Attr))
	for _, a := range n.Attr {
		attrs = append(attrs, segment.Attr{Key: a.Key, Val: a.Val})
	}
	return attrs
}
