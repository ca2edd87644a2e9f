package masker

import (
	"strings"
	"testing"
)

func TestMask(t *testing.T) {
	m := New()

	t.Run("masks an email", func(t *testing.T) {
		masked, mappings := m.Mask("contact a@b.com today")
		if len(mappings) != 1 {
			t.Fatalf("mappings = %d, want 1", len(mappings))
		}
		if mappings[0].Type != EntityEmail || mappings[0].Original != "a@b.com" {
			t.Errorf("mapping = %+v", mappings[0])
		}
		if strings.Contains(masked, "a@b.com") {
			t.Errorf("original still present: %q", masked)
		}
		if !strings.Contains(masked, "⟦SD:EMAIL:") {
			t.Errorf("no email token in %q", masked)
		}
	})

	t.Run("no sensitive data means no change", func(t *testing.T) {
		masked, mappings := m.Mask("nothing to hide here")
		if masked != "nothing to hide here" || mappings != nil {
			t.Errorf("masked = %q, mappings = %v", masked, mappings)
		}
	})

	t.Run("longest match wins overlap", func(t *testing.T) {
		// The phone pattern matches subsets of a card-like run; the card
		// match starts first and is longer, so it must win.
		masked, mappings := m.Mask("card 1234 5678 9012 3456 on file")
		if len(mappings) != 1 {
			t.Fatalf("mappings = %v, want exactly one", mappings)
		}
		if mappings[0].Type != EntityCard {
			t.Errorf("type = %s, want CREDIT_CARD", mappings[0].Type)
		}
		if mappings[0].Original != "1234 5678 9012 3456" {
			t.Errorf("original = %q", mappings[0].Original)
		}
		if strings.Count(masked, "⟦") != 1 {
			t.Errorf("expected one token in %q", masked)
		}
	})

	t.Run("password assignment", func(t *testing.T) {
		_, mappings := m.Mask("login with password: hunter2 please")
		if len(mappings) != 1 || mappings[0].Type != EntityPassword {
			t.Fatalf("mappings = %+v", mappings)
		}
		if mappings[0].Original != "password: hunter2" {
			t.Errorf("original = %q", mappings[0].Original)
		}
	})

	t.Run("phone number", func(t *testing.T) {
		_, mappings := m.Mask("call 555-123-4567 now")
		if len(mappings) != 1 || mappings[0].Type != EntityPhone {
			t.Fatalf("mappings = %+v", mappings)
		}
	})

	t.Run("url", func(t *testing.T) {
		_, mappings := m.Mask("see https://internal.example.com/x?y=1 for details")
		if len(mappings) != 1 || mappings[0].Type != EntityURL {
			t.Fatalf("mappings = %+v", mappings)
		}
	})

	t.Run("mappings in document order with unique tokens", func(t *testing.T) {
		_, mappings := m.Mask("first a@b.com then c@d.org")
		if len(mappings) != 2 {
			t.Fatalf("mappings = %d", len(mappings))
		}
		if mappings[0].Original != "a@b.com" || mappings[1].Original != "c@d.org" {
			t.Errorf("order wrong: %+v", mappings)
		}
		if mappings[0].Token == mappings[1].Token {
			t.Error("tokens must be unique")
		}
	})
}

func TestUnmaskRoundTrip(t *testing.T) {
	m := New()
	inputs := []string{
		"contact a@b.com today",
		"card 1234 5678 9012 3456 and phone 555-123-4567",
		"password: hunter2 at https://example.com/login code 123456",
		"plain text stays untouched",
	}
	for _, in := range inputs {
		masked, mappings := m.Mask(in)
		if got := Unmask(masked, mappings); got != in {
			t.Errorf("round trip failed:\n in  %q\n got %q", in, got)
		}
	}
}

func TestUnmaskIgnoresAbsentTokens(t *testing.T) {
	out := Unmask("text without tokens", []Mapping{{Token: "⟦SD:EMAIL:X⟧", Original: "a@b.com"}})
	if out != "text without tokens" {
		t.Errorf("out = %q", out)
	}
}
