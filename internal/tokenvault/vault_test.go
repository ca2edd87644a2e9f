package tokenvault

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/docpipe/docpipe/internal/segment"
)

// parseBlock parses an HTML fragment and returns the first <p> element.
func parseBlock(t *testing.T, fragment string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		t.Fatalf("parse fragment: %v", err)
	}
	var find func(*html.Node) *html.Node
	find = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && n.Data == "p" {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found := find(c); found != nil {
				return found
			}
		}
		return nil
	}
	block := find(doc)
	if block == nil {
		t.Fatalf("fragment has no <p>: %s", fragment)
	}
	return block
}

func TestTokenize(t *testing.T) {
	t.Run("inline formatting", func(t *testing.T) {
		text, tokens := Tokenize(parseBlock(t, "<p>Hello <b>World</b>!</p>"))
		if text != "Hello <INLINE_1>World</INLINE_1>!" {
			t.Errorf("text = %q", text)
		}
		tok, ok := tokens["INLINE_1"]
		if !ok {
			t.Fatal("missing INLINE_1 token")
		}
		if tok.Type != segment.TokenInline || tok.Tag != "b" {
			t.Errorf("token = %+v", tok)
		}
		if tok.SourceContent != "<b>World</b>" {
			t.Errorf("source content = %q", tok.SourceContent)
		}
	})

	t.Run("anchor with display text", func(t *testing.T) {
		text, tokens := Tokenize(parseBlock(t, `<p><a href="https://x.com">click here</a></p>`))
		if text != "<URL_1>click here</URL_1>" {
			t.Errorf("text = %q", text)
		}
		tok := tokens["URL_1"]
		if tok.Href != "https://x.com" || tok.DisplayText != "click here" || tok.SelfClosing {
			t.Errorf("token = %+v", tok)
		}
	})

	t.Run("anchor whose text is the href collapses", func(t *testing.T) {
		text, tokens := Tokenize(parseBlock(t, `<p><a href="https://x.com">https://x.com</a></p>`))
		if text != "<URL_1/>" {
			t.Errorf("text = %q", text)
		}
		if !tokens["URL_1"].SelfClosing {
			t.Error("token should be self-closing")
		}
	})

	t.Run("images and line breaks", func(t *testing.T) {
		text, tokens := Tokenize(parseBlock(t, `<p>one<br/>two<img src="a.png" alt="pic"/></p>`))
		if text != "one<BR_1/>two<IMG_1/>" {
			t.Errorf("text = %q", text)
		}
		if tokens["IMG_1"].Src != "a.png" || tokens["IMG_1"].Alt != "pic" {
			t.Errorf("img token = %+v", tokens["IMG_1"])
		}
	})

	t.Run("ids count per type", func(t *testing.T) {
		text, _ := Tokenize(parseBlock(t, "<p><b>a</b><i>b</i><br/><br/></p>"))
		if text != "<INLINE_1>a</INLINE_1><INLINE_2>b</INLINE_2><BR_1/><BR_2/>" {
			t.Errorf("text = %q", text)
		}
	})

	t.Run("literal markup characters stay encoded", func(t *testing.T) {
		text, tokens := Tokenize(parseBlock(t, "<p>1 &lt; 2 &amp; 3</p>"))
		if text != "1 &lt; 2 &amp; 3" {
			t.Errorf("text = %q", text)
		}
		if len(tokens) != 0 {
			t.Errorf("tokens = %+v", tokens)
		}
	})

	t.Run("anchor display text stays encoded", func(t *testing.T) {
		text, _ := Tokenize(parseBlock(t, `<p><a href="/x">a &amp; b</a></p>`))
		if text != "<URL_1>a &amp; b</URL_1>" {
			t.Errorf("text = %q", text)
		}
	})

	t.Run("nested formatting", func(t *testing.T) {
		text, tokens := Tokenize(parseBlock(t, "<p><b>bold <i>both</i></b></p>"))
		if text != "<INLINE_1>bold <INLINE_2>both</INLINE_2></INLINE_1>" {
			t.Errorf("text = %q", text)
		}
		if len(tokens) != 2 {
			t.Errorf("token count = %d", len(tokens))
		}
	})
}

func TestDetokenize(t *testing.T) {
	t.Run("round trip restores markup", func(t *testing.T) {
		src := `<p>Hello <b class="x">World</b>, see <a href="https://x.com">this</a><br/></p>`
		text, tokens := Tokenize(parseBlock(t, src))

		restored, err := Detokenize(text, tokens)
		if err != nil {
			t.Fatalf("Detokenize() error = %v", err)
		}
		want := `Hello <b class="x">World</b>, see <a href="https://x.com">this</a><br/>`
		if restored != want {
			t.Errorf("restored = %q, want %q", restored, want)
		}
	})

	t.Run("encoded text never becomes markup", func(t *testing.T) {
		text, tokens := Tokenize(parseBlock(t, "<p>a&lt;b&gt;c</p>"))
		restored, err := Detokenize(text, tokens)
		if err != nil {
			t.Fatalf("Detokenize() error = %v", err)
		}
		if restored != "a&lt;b&gt;c" {
			t.Errorf("restored = %q", restored)
		}
	})

	t.Run("translated inner text is wrapped", func(t *testing.T) {
		_, tokens := Tokenize(parseBlock(t, "<p><b>World</b></p>"))
		restored, err := Detokenize("<INLINE_1>Monde</INLINE_1>", tokens)
		if err != nil {
			t.Fatal(err)
		}
		if restored != "<b>Monde</b>" {
			t.Errorf("restored = %q", restored)
		}
	})

	t.Run("self-closing url rebuilds anchor", func(t *testing.T) {
		_, tokens := Tokenize(parseBlock(t, `<p><a href="https://x.com">https://x.com</a></p>`))
		restored, err := Detokenize("<URL_1/>", tokens)
		if err != nil {
			t.Fatal(err)
		}
		if restored != `<a href="https://x.com">https://x.com</a>` {
			t.Errorf("restored = %q", restored)
		}
	})

	t.Run("dropped placeholder is fine", func(t *testing.T) {
		_, tokens := Tokenize(parseBlock(t, "<p><b>World</b></p>"))
		restored, err := Detokenize("no formatting left", tokens)
		if err != nil {
			t.Fatal(err)
		}
		if restored != "no formatting left" {
			t.Errorf("restored = %q", restored)
		}
	})

	t.Run("unknown placeholder is an error", func(t *testing.T) {
		_, err := Detokenize("<INLINE_9>x</INLINE_9>", nil)
		if !errors.Is(err, ErrUnknownToken) {
			t.Errorf("expected ErrUnknownToken, got %v", err)
		}
	})

	t.Run("unterminated placeholder is an error", func(t *testing.T) {
		_, tokens := Tokenize(parseBlock(t, "<p><b>World</b></p>"))
		_, err := Detokenize("<INLINE_1>never closed", tokens)
		if !errors.Is(err, ErrUnterminatedToken) {
			t.Errorf("expected ErrUnterminatedToken, got %v", err)
		}
	})
}
