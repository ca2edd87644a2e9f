package task

import (
	"errors"
	"testing"
)

func TestTransitions(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		tk := New(TypeHTML, "<p>hi</p>", "en")
		if tk.Stage != StageQueuedForProcessing {
			t.Fatalf("new task stage = %s", tk.Stage)
		}
		if tk.Status != StatusPending {
			t.Fatalf("new task status = %s", tk.Status)
		}

		if err := tk.MarkProcessing(); err != nil {
			t.Fatalf("MarkProcessing() error = %v", err)
		}
		if tk.Status != StatusInProgress {
			t.Errorf("status after MarkProcessing = %s", tk.Status)
		}

		if err := tk.MarkParsed(42); err != nil {
			t.Fatalf("MarkParsed() error = %v", err)
		}
		if tk.Stage != StageParsed {
			t.Errorf("stage = %s, want PARSED", tk.Stage)
		}
		if tk.WordCount != 42 {
			t.Errorf("word count = %d, want 42", tk.WordCount)
		}
	})

	t.Run("rejects skipping processing", func(t *testing.T) {
		tk := New(TypeHTML, "x", "")
		err := tk.MarkParsed(1)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("rejects double processing", func(t *testing.T) {
		tk := New(TypeHTML, "x", "")
		if err := tk.MarkProcessing(); err != nil {
			t.Fatal(err)
		}
		if err := tk.MarkProcessing(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})
}

func TestErrorStates(t *testing.T) {
	t.Run("error is forced from any stage", func(t *testing.T) {
		tk := New(TypeXLIFF, "x", "")
		tk.MarkError("boom")
		if tk.Stage != StageProcessingError {
			t.Errorf("stage = %s", tk.Stage)
		}
		if tk.Status != StatusError {
			t.Errorf("status = %s", tk.Status)
		}
		if tk.ErrorMessage != "boom" {
			t.Errorf("error message = %q", tk.ErrorMessage)
		}
		if !tk.Terminal() {
			t.Error("errored task should be terminal")
		}
	})

	t.Run("rejection keeps reason separate", func(t *testing.T) {
		tk := New(TypeHTML, "x", "")
		tk.MarkRejected("no translatable content")
		if tk.Status != StatusRejected {
			t.Errorf("status = %s", tk.Status)
		}
		if tk.RejectionReason == "" || tk.ErrorMessage != "" {
			t.Errorf("rejection reason %q, error message %q", tk.RejectionReason, tk.ErrorMessage)
		}
		if !tk.Terminal() {
			t.Error("rejected task should be terminal")
		}
	})
}

func TestTypeKnown(t *testing.T) {
	for _, typ := range []Type{TypeEmail, TypeHTML, TypePlainText, TypeXLIFF} {
		if !typ.Known() {
			t.Errorf("%s should be known", typ)
		}
	}
	if Type("PDF").Known() {
		t.Error("PDF should not be known")
	}
}
