package vectorstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rcliao/avatar-memory/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func vec(id, file string, vals ...float32) model.Vector {
	meta := model.MetadataBuilder{}
	meta.Set(model.MetaFileName, file)
	meta.Set(model.MetaDocID, "doc-"+file)
	meta.Set(model.MetaText, "chunk "+id)
	return model.Vector{ID: id, Values: vals, Metadata: meta.Map()}
}

func TestUpsertAndFetch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.EnsureIndex(ctx, IndexSpec{Name: "idx", Dimension: 2}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// Idempotent.
	if err := s.EnsureIndex(ctx, IndexSpec{Name: "idx", Dimension: 2}); err != nil {
		t.Fatalf("ensure again: %v", err)
	}

	err := s.Upsert(ctx, "idx", "u_a", []model.Vector{vec("a-1", "f.txt", 1, 2), vec("a-2", "f.txt", 3, 4)})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.Fetch(ctx, "idx", "u_a", []string{"a-2", "missing", "a-1"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(got))
	}
	if got[0].ID != "a-2" || got[0].Values[1] != 4 {
		t.Errorf("unexpected first vector %+v", got[0])
	}
	if got[1].Metadata[model.MetaFileName] != "f.txt" {
		t.Errorf("metadata not round-tripped: %v", got[1].Metadata)
	}

	// Upsert replaces by ID.
	if err := s.Upsert(ctx, "idx", "u_a", []model.Vector{vec("a-1", "g.txt", 9, 9)}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, _ = s.Fetch(ctx, "idx", "u_a", []string{"a-1"})
	if got[0].Values[0] != 9 || got[0].Metadata[model.MetaFileName] != "g.txt" {
		t.Errorf("expected replaced vector, got %+v", got[0])
	}
}

func TestUpsertUnknownIndex(t *testing.T) {
	s := newTestStore(t)
	err := s.Upsert(context.Background(), "nope", "ns", []model.Vector{vec("x", "f", 1)})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.EnsureIndex(ctx, IndexSpec{Name: "idx", Dimension: 3})

	if err := s.Upsert(ctx, "idx", "ns", []model.Vector{vec("x", "f", 1, 2)}); err == nil {
		t.Error("expected dimension error")
	}
}

func TestDeleteByFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.EnsureIndex(ctx, IndexSpec{Name: "idx", Dimension: 1})
	s.Upsert(ctx, "idx", "u_a", []model.Vector{vec("1", "keep.txt", 1), vec("2", "drop.txt", 1), vec("3", "drop.txt", 1)})
	s.Upsert(ctx, "idx", "u_b", []model.Vector{vec("4", "drop.txt", 1)})

	if err := s.DeleteByFilter(ctx, "idx", "u_a", Filter{model.MetaFileName: "drop.txt"}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, _ := s.Fetch(ctx, "idx", "u_a", []string{"1", "2", "3"})
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("expected only vector 1 to remain, got %+v", got)
	}
	other, _ := s.Fetch(ctx, "idx", "u_b", []string{"4"})
	if len(other) != 1 {
		t.Error("delete leaked into another namespace")
	}

	// Matching nothing is fine.
	if err := s.DeleteByFilter(ctx, "idx", "u_c", Filter{model.MetaFileName: "none"}); err != nil {
		t.Errorf("empty delete: %v", err)
	}
	if err := s.DeleteByFilter(ctx, "nope", "u_a", Filter{model.MetaFileName: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown index, got %v", err)
	}
	if err := s.DeleteByFilter(ctx, "idx", "u_a", Filter{"x') OR 1=1 --": "x"}); err == nil {
		t.Error("expected invalid field error")
	}
}

func TestListAndStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.EnsureIndex(ctx, IndexSpec{Name: "idx", Dimension: 1})
	s.Upsert(ctx, "idx", "u_a", []model.Vector{vec("1", "a", 1), vec("2", "a", 1), vec("3", "b", 1)})
	meta := vec("a-meta-0", "", 1)
	meta.Metadata[model.MetaType] = model.TypeMetaSummary
	s.Upsert(ctx, "idx", "u_b", []model.Vector{meta})

	all, err := s.List(ctx, ListParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 records, got %d", len(all))
	}

	limited, _ := s.List(ctx, ListParams{Namespace: "u_a", Limit: 2})
	if len(limited) != 2 {
		t.Errorf("expected 2 records, got %d", len(limited))
	}
	for _, r := range limited {
		if r.Namespace != "u_a" || r.Index != "idx" {
			t.Errorf("unexpected record location %s/%s", r.Index, r.Namespace)
		}
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalIndexes != 1 || st.TotalVectors != 4 || st.MetaVectors != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
	if len(st.Namespaces) != 2 || st.Namespaces[0].Namespace != "u_a" || st.Namespaces[0].Docs != 2 {
		t.Errorf("unexpected namespace stats %+v", st.Namespaces)
	}
}
