package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/docpipe/docpipe/internal/segment"
	"github.com/docpipe/docpipe/internal/store"
	"github.com/docpipe/docpipe/internal/task"
)

func TestTaskStore(t *testing.T) {
	ctx := context.Background()
	stores := New().Stores()

	t.Run("round trip", func(t *testing.T) {
		tk := task.New(task.TypeHTML, "<p>hi</p>", "fr")
		if err := stores.Tasks.Save(ctx, tk); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := stores.Tasks.FindByID(ctx, tk.ID)
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if got.SourceContent != "<p>hi</p>" || got.Type != task.TypeHTML {
			t.Errorf("got = %+v", got)
		}
		if got.Revision != 1 {
			t.Errorf("revision = %d, want 1", got.Revision)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if _, err := stores.Tasks.FindByID(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("stale revision conflicts", func(t *testing.T) {
		tk := task.New(task.TypePlainText, "text", "")
		if err := stores.Tasks.Save(ctx, tk); err != nil {
			t.Fatal(err)
		}
		stale, err := stores.Tasks.FindByID(ctx, tk.ID)
		if err != nil {
			t.Fatal(err)
		}
		fresh, err := stores.Tasks.FindByID(ctx, tk.ID)
		if err != nil {
			t.Fatal(err)
		}
		if err := stores.Tasks.Save(ctx, fresh); err != nil {
			t.Fatalf("first writer: %v", err)
		}
		if err := stores.Tasks.Save(ctx, stale); !errors.Is(err, store.ErrRevisionConflict) {
			t.Errorf("expected ErrRevisionConflict, got %v", err)
		}
	})
}

func TestSegmentStore(t *testing.T) {
	ctx := context.Background()
	stores := New().Stores()

	segs := []*segment.Segment{
		segment.New("t1", 2, "two", nil),
		segment.New("t1", 1, "one", nil),
		segment.New("t2", 1, "other task", nil),
	}
	if err := stores.Segments.SaveMany(ctx, segs); err != nil {
		t.Fatalf("SaveMany() error = %v", err)
	}

	got, err := stores.Segments.FindByTaskID(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].SourceContent != "one" || got[1].SourceContent != "two" {
		t.Errorf("segments out of order: %+v", got)
	}

	// In-place update keyed by task and order.
	got[1].EditedContent = "deux"
	if err := stores.Segments.Save(ctx, got[1]); err != nil {
		t.Fatal(err)
	}
	again, err := stores.Segments.FindByTaskID(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 2 || again[1].EditedContent != "deux" {
		t.Errorf("update lost: %+v", again[1])
	}

	// A re-parse writes fresh ids for the same orders; SaveMany replaces the
	// task's segment set.
	if err := stores.Segments.SaveMany(ctx, []*segment.Segment{
		segment.New("t1", 1, "uno", nil),
	}); err != nil {
		t.Fatal(err)
	}
	replaced, err := stores.Segments.FindByTaskID(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(replaced) != 1 || replaced[0].SourceContent != "uno" {
		t.Errorf("re-parse not applied: %+v", replaced)
	}
	other, err := stores.Segments.FindByTaskID(ctx, "t2")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 1 {
		t.Errorf("unrelated task touched: %+v", other)
	}
}

func TestMappingStoreAppendOnly(t *testing.T) {
	ctx := context.Background()
	stores := New().Stores()

	first := []store.SensitiveMapping{
		{TaskID: "t1", Token: "⟦SD:EMAIL:A⟧", Type: "EMAIL", Original: "a@b.com"},
	}
	if err := stores.Mappings.SaveMany(ctx, first); err != nil {
		t.Fatal(err)
	}
	// A second write of the same token must not overwrite the original.
	second := []store.SensitiveMapping{
		{TaskID: "t1", Token: "⟦SD:EMAIL:A⟧", Type: "EMAIL", Original: "evil@x.com"},
		{TaskID: "t1", Token: "⟦SD:PHONE:B⟧", Type: "PHONE", Original: "555-123-4567"},
	}
	if err := stores.Mappings.SaveMany(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := stores.Mappings.FindByTaskID(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("mappings = %d, want 2", len(got))
	}
	if got[0].Original != "a@b.com" {
		t.Errorf("original overwritten: %+v", got[0])
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}
}

func TestFlowStoreListUnfinished(t *testing.T) {
	ctx := context.Background()
	m := New()
	stores := m.Stores()

	recs := []*store.JobRecord{
		{ID: "r1", FlowID: "f1", Name: "root", Status: "pending"},
		{ID: "c1", FlowID: "f1", ParentID: "r1", Name: "child", Status: "completed"},
		{ID: "r2", FlowID: "f2", Name: "root", Status: "completed"},
		{ID: "r3", FlowID: "f3", Name: "root", Status: "failed"},
	}
	if err := stores.Flows.SaveJobs(ctx, recs); err != nil {
		t.Fatal(err)
	}

	got, err := stores.Flows.ListUnfinished(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want the two f1 rows", len(got))
	}
	for _, r := range got {
		if r.FlowID != "f1" {
			t.Errorf("unexpected flow %s in %+v", r.FlowID, r)
		}
	}

	if err := stores.Flows.UpdateJobStatus(ctx, "r1", "completed", ""); err != nil {
		t.Fatal(err)
	}
	got, err = stores.Flows.ListUnfinished(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("finished flow still listed: %+v", got)
	}

	rec, ok := m.JobRecord("r1")
	if !ok || rec.CompletedAt == nil {
		t.Errorf("completion timestamp missing: %+v", rec)
	}

	if err := stores.Flows.UpdateJobStatus(ctx, "ghost", "running", ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
