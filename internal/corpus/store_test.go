package corpus

import (
	"context"
	"testing"
	"time"
)

func Test_Store_PutAndAll(t *testing.T) {
	t.Parallel()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	docs := []Document{
		{ID: "n1", Title: "Project Alpha", Content: "notes about alpha", Source: "filesystem", SourceID: "alpha.md", Folder: "Work", ModifiedAt: time.Unix(1000, 0)},
		{ID: "n2", Title: "Groceries", Content: "milk eggs", Source: "filesystem", SourceID: "groceries.md", ModifiedAt: time.Unix(2000, 0)},
	}
	for _, d := range docs {
		if err := s.Put(ctx, d); err != nil {
			t.Fatalf("Put(%s): %v", d.ID, err)
		}
	}

	got, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 documents, got %d", len(got))
	}
	// Newest first.
	if got[0].ID != "n2" || got[1].ID != "n1" {
		t.Errorf("wrong order: got %s, %s", got[0].ID, got[1].ID)
	}
	if got[1].Folder != "Work" {
		t.Errorf("folder not persisted: got %q", got[1].Folder)
	}
}

func Test_Store_PutReplacesExisting(t *testing.T) {
	t.Parallel()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	doc := Document{ID: "n1", Title: "v1", Content: "old", Source: "filesystem", SourceID: "a"}
	if err := s.Put(ctx, doc); err != nil {
		t.Fatalf("Put: %v", err)
	}
	doc.Title = "v2"
	doc.Content = "new"
	if err := s.Put(ctx, doc); err != nil {
		t.Fatalf("Put replace: %v", err)
	}

	got, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 document after replace, got %d", len(got))
	}
	if got[0].Title != "v2" || got[0].Content != "new" {
		t.Errorf("replace did not apply: %+v", got[0])
	}
}

func Test_Store_DeleteAndCount(t *testing.T) {
	t.Parallel()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Put(ctx, Document{ID: "n1", Title: "t", Content: "c", Source: "s", SourceID: "1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, "n1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Deleting an absent ID is not an error.
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("want empty store, got %d documents", n)
	}
}
