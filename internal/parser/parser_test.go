package parser

import (
	"testing"

	"github.com/docpipe/docpipe/internal/task"
)

func TestHTMLParser(t *testing.T) {
	t.Run("single paragraph with inline markup", func(t *testing.T) {
		p := &HTMLParser{}
		res, err := p.Parse("<p>Hello <b>World</b>, email me at a@b.com</p>")
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		if len(res.Segments) != 1 {
			t.Fatalf("segments = %d, want 1", len(res.Segments))
		}
		seg := res.Segments[0]
		if seg.Order != 1 {
			t.Errorf("order = %d", seg.Order)
		}
		if seg.SourceContent != "Hello <INLINE_1>World</INLINE_1>, email me at a@b.com" {
			t.Errorf("content = %q", seg.SourceContent)
		}
		if seg.Tokens["INLINE_1"].SourceContent != "<b>World</b>" {
			t.Errorf("token = %+v", seg.Tokens["INLINE_1"])
		}
		if refs := res.Structure.SegmentRefs(); len(refs) != 1 || refs[0] != 1 {
			t.Errorf("segment refs = %v", refs)
		}
	})

	t.Run("dense ordering across blocks", func(t *testing.T) {
		p := &HTMLParser{}
		res, err := p.Parse("<div><h1>Title</h1><p>One</p><ul><li>Two</li><li>Three</li></ul></div>")
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Segments) != 4 {
			t.Fatalf("segments = %d, want 4", len(res.Segments))
		}
		for i, seg := range res.Segments {
			if seg.Order != i+1 {
				t.Errorf("segment %d has order %d", i, seg.Order)
			}
		}
		if res.Segments[0].Format.ContainerTag != "h1" {
			t.Errorf("container = %q", res.Segments[0].Format.ContainerTag)
		}
	})

	t.Run("nested blocks only leaves become segments", func(t *testing.T) {
		p := &HTMLParser{}
		res, err := p.Parse("<div><div><p>Deep</p></div></div>")
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Segments) != 1 {
			t.Fatalf("segments = %d, want 1", len(res.Segments))
		}
		if res.Segments[0].Format.ContainerTag != "p" {
			t.Errorf("container = %q", res.Segments[0].Format.ContainerTag)
		}
	})

	t.Run("table cells carry position metadata", func(t *testing.T) {
		p := &HTMLParser{}
		res, err := p.Parse("<table><tr><td>A</td><td>B</td></tr><tr><td>C</td></tr></table>")
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Segments) != 3 {
			t.Fatalf("segments = %d, want 3", len(res.Segments))
		}
		b := res.Segments[1]
		if b.Format.TableRow != 0 || b.Format.TableCol != 1 {
			t.Errorf("B position = (%d,%d)", b.Format.TableRow, b.Format.TableCol)
		}
		c := res.Segments[2]
		if c.Format.TableRow != 1 || c.Format.TableCol != 0 {
			t.Errorf("C position = (%d,%d)", c.Format.TableRow, c.Format.TableCol)
		}
	})

	t.Run("script content is not translatable", func(t *testing.T) {
		p := &HTMLParser{}
		_, err := p.Parse("<script>var x = 1;</script>")
		if err == nil {
			t.Error("expected error for script-only document")
		}
	})

	t.Run("document without blocks is one segment", func(t *testing.T) {
		p := &HTMLParser{}
		res, err := p.Parse("Hello <b>there</b>")
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Segments) != 1 {
			t.Fatalf("segments = %d", len(res.Segments))
		}
		if res.Segments[0].SourceContent != "Hello <INLINE_1>there</INLINE_1>" {
			t.Errorf("content = %q", res.Segments[0].SourceContent)
		}
	})

	t.Run("empty document errors", func(t *testing.T) {
		p := &HTMLParser{}
		if _, err := p.Parse("<p>   </p>"); err == nil {
			t.Error("expected error for whitespace-only document")
		}
	})
}

func TestHTMLRoundTrip(t *testing.T) {
	inputs := []string{
		"<p>Hello <b>World</b>, email me at a@b.com</p>",
		`<div class="wrap"><p>One</p>
<p>Two with <a href="https://x.com">link</a></p></div>`,
		"<p>keep<br/>breaks</p>",
		"<p>Text</p><!-- note -->",
		"<p>1 &lt; 2 &amp; 3</p>",
		"<p>a&lt;b&gt;c</p>",
		`<p><a href="/x">a &amp; b</a></p>`,
	}
	p := &HTMLParser{}
	for _, in := range inputs {
		res, err := p.Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", in, err)
		}
		out, err := Reconstruct(res.Structure, res.Segments)
		if err != nil {
			t.Fatalf("Reconstruct(%q) error = %v", in, err)
		}
		if out != in {
			t.Errorf("round trip:\n in  %q\n out %q", in, out)
		}
	}

	// The HTML5 parser inserts an implicit tbody; reconstruction keeps it.
	res, err := p.Parse("<table><tr><td>A</td><td>B</td></tr></table>")
	if err != nil {
		t.Fatal(err)
	}
	out, err := Reconstruct(res.Structure, res.Segments)
	if err != nil {
		t.Fatal(err)
	}
	if out != "<table><tbody><tr><td>A</td><td>B</td></tr></tbody></table>" {
		t.Errorf("table out = %q", out)
	}
}

func TestReconstructUsesCurrentContent(t *testing.T) {
	p := &HTMLParser{}
	res, err := p.Parse("<p>Hello <b>World</b></p>")
	if err != nil {
		t.Fatal(err)
	}
	res.Segments[0].MachineTranslatedContent = "Bonjour <INLINE_1>Monde</INLINE_1>"
	out, err := Reconstruct(res.Structure, res.Segments)
	if err != nil {
		t.Fatal(err)
	}
	if out != "<p>Bonjour <b>Monde</b></p>" {
		t.Errorf("out = %q", out)
	}

	res.Segments[0].EditedContent = "Salut <INLINE_1>Monde</INLINE_1>"
	out, err = Reconstruct(res.Structure, res.Segments)
	if err != nil {
		t.Fatal(err)
	}
	if out != "<p>Salut <b>Monde</b></p>" {
		t.Errorf("edited out = %q", out)
	}
}

func TestReconstructMissingSegment(t *testing.T) {
	p := &HTMLParser{}
	res, err := p.Parse("<div><p>One</p><p>Two</p></div>")
	if err != nil {
		t.Fatal(err)
	}
	out, err := Reconstruct(res.Structure, res.Segments[:1])
	if err != nil {
		t.Fatalf("Reconstruct() error = %v", err)
	}
	if out != "<div><p>One</p><p></p></div>" {
		t.Errorf("out = %q", out)
	}
}

func TestReconstructUnknownPlaceholderFails(t *testing.T) {
	p := &HTMLParser{}
	res, err := p.Parse("<p>plain</p>")
	if err != nil {
		t.Fatal(err)
	}
	res.Segments[0].EditedContent = "has <INLINE_7>ghost</INLINE_7>"
	if _, err := Reconstruct(res.Structure, res.Segments); err == nil {
		t.Error("expected error for unknown placeholder")
	}
}

func TestForType(t *testing.T) {
	for _, typ := range []task.Type{task.TypeHTML, task.TypeEmail, task.TypePlainText, task.TypeXLIFF} {
		if _, err := ForType(typ); err != nil {
			t.Errorf("ForType(%s) error = %v", typ, err)
		}
	}
	if _, err := ForType(task.Type("PDF")); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"Hello World", 2},
		{"Hello <INLINE_1>World</INLINE_1>", 2},
		{"<URL_1/> <IMG_1/><BR_1/>", 0},
		{"see <URL_1>release notes</URL_1> here", 4},
		{"code ⟦SD:EMAIL:01ABCDEF⟧ end", 2},
		{"", 0},
	}
	for _, tt := range tests {
		if got := CountWords(tt.text); got != tt.want {
			t.Errorf("CountWords(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
