package vector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFlatIndexInsertSearch(t *testing.T) {
	idx, err := NewFlatIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	idx.Insert(ctx, "a", []float32{1, 0, 0})
	idx.Insert(ctx, "b", []float32{0, 1, 0})
	idx.Insert(ctx, "c", []float32{0.7, 0.7, 0})

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "a" {
		t.Errorf("best match should be a, got %s", hits[0].ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits should be sorted by score descending")
	}
}

func TestFlatIndexUpsert(t *testing.T) {
	idx, _ := NewFlatIndex(2)
	ctx := context.Background()
	idx.Insert(ctx, "a", []float32{1, 0})
	idx.Insert(ctx, "a", []float32{0, 1})
	if idx.Size() != 1 {
		t.Fatalf("upsert should not grow index, size %d", idx.Size())
	}
	hits, _ := idx.Search(ctx, []float32{0, 1}, 1)
	if hits[0].Score < 0.99 {
		t.Errorf("old vector still present, score %f", hits[0].Score)
	}
}

func TestFlatIndexDimensionMismatch(t *testing.T) {
	idx, _ := NewFlatIndex(3)
	ctx := context.Background()
	if err := idx.Insert(ctx, "a", []float32{1, 0}); err == nil {
		t.Error("expected error inserting wrong dimension")
	}
	if _, err := idx.Search(ctx, []float32{1, 0}, 5); err == nil {
		t.Error("expected error searching with wrong dimension")
	}
}

func TestFlatIndexDelete(t *testing.T) {
	idx, _ := NewFlatIndex(2)
	ctx := context.Background()
	idx.Insert(ctx, "a", []float32{1, 0})
	idx.Insert(ctx, "b", []float32{0, 1})
	idx.Insert(ctx, "c", []float32{1, 0})

	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if idx.Contains("a") {
		t.Error("deleted id still present")
	}
	if idx.Size() != 2 {
		t.Errorf("expected size 2, got %d", idx.Size())
	}
	hits, _ := idx.Search(ctx, []float32{1, 0}, 10)
	for _, h := range hits {
		if h.ID == "a" {
			t.Error("deleted id returned by search")
		}
	}
	// deleting an absent id is a no-op
	if err := idx.Delete(ctx, "missing"); err != nil {
		t.Errorf("delete of missing id: %v", err)
	}
}

func TestFlatIndexTieBreak(t *testing.T) {
	idx, _ := NewFlatIndex(2)
	ctx := context.Background()
	idx.Insert(ctx, "z", []float32{1, 0})
	idx.Insert(ctx, "a", []float32{1, 0})
	idx.Insert(ctx, "m", []float32{1, 0})

	hits, _ := idx.Search(ctx, []float32{1, 0}, 3)
	if hits[0].ID != "a" || hits[1].ID != "m" || hits[2].ID != "z" {
		t.Errorf("equal scores should order by id: %v", hits)
	}
}

func TestFlatIndexSearchLimits(t *testing.T) {
	idx, _ := NewFlatIndex(2)
	ctx := context.Background()

	hits, err := idx.Search(ctx, []float32{1, 0}, 5)
	if err != nil || len(hits) != 0 {
		t.Errorf("empty index should return no hits, got %v %v", hits, err)
	}

	idx.Insert(ctx, "a", []float32{1, 0})
	hits, _ = idx.Search(ctx, []float32{1, 0}, 10)
	if len(hits) != 1 {
		t.Errorf("k beyond size should clamp, got %d hits", len(hits))
	}
	hits, _ = idx.Search(ctx, []float32{1, 0}, 0)
	if len(hits) != 0 {
		t.Errorf("k=0 should return nothing, got %d", len(hits))
	}
}

func TestFlatIndexPersistRestore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.bin")
	ctx := context.Background()

	idx, _ := NewFlatIndex(3)
	idx.Insert(ctx, "contact:1", []float32{1, 0, 0})
	idx.Insert(ctx, "contact:2", []float32{0, 1, 0})
	idx.Insert(ctx, "company:9", []float32{0, 0, 1})
	if err := idx.Persist(path); err != nil {
		t.Fatal(err)
	}

	restored, _ := NewFlatIndex(3)
	if err := restored.Restore(path); err != nil {
		t.Fatal(err)
	}
	if restored.Size() != 3 {
		t.Fatalf("expected 3 vectors after restore, got %d", restored.Size())
	}

	query := []float32{0.9, 0.1, 0}
	want, _ := idx.Search(ctx, query, 3)
	got, _ := restored.Search(ctx, query, 3)
	if len(want) != len(got) {
		t.Fatalf("result count differs: %d vs %d", len(want), len(got))
	}
	for i := range want {
		if want[i].ID != got[i].ID || want[i].Score != got[i].Score {
			t.Errorf("result %d differs: %v vs %v", i, want[i], got[i])
		}
	}
}

func TestFlatIndexRestoreMissingFile(t *testing.T) {
	idx, _ := NewFlatIndex(3)
	if err := idx.Restore(filepath.Join(t.TempDir(), "nope.bin")); err != nil {
		t.Errorf("missing file should restore empty, got %v", err)
	}
	if idx.Size() != 0 {
		t.Errorf("expected empty index, size %d", idx.Size())
	}
}

func TestFlatIndexRestoreCorrupt(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cases := []struct {
		name  string
		write func(path string) error
	}{
		{"garbage", func(path string) error {
			return os.WriteFile(path, []byte("not an index"), 0644)
		}},
		{"short header", func(path string) error {
			return os.WriteFile(path, flatMagic[:4], 0644)
		}},
		{"truncated body", func(path string) error {
			full, _ := NewFlatIndex(3)
			full.Insert(ctx, "a", []float32{1, 0, 0})
			full.Insert(ctx, "b", []float32{0, 1, 0})
			if err := full.Persist(path); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			return os.WriteFile(path, data[:len(data)-5], 0644)
		}},
		{"dimension mismatch", func(path string) error {
			other, _ := NewFlatIndex(5)
			other.Insert(ctx, "a", []float32{1, 0, 0, 0, 0})
			return other.Persist(path)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".bin")
			if err := tc.write(path); err != nil {
				t.Fatal(err)
			}
			idx, _ := NewFlatIndex(3)
			err := idx.Restore(path)
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	if s := CosineSimilarity(a, a); s < 0.999 {
		t.Errorf("identical vectors should score ~1, got %f", s)
	}
	if s := CosineSimilarity(a, b); s != 0 {
		t.Errorf("orthogonal vectors should score 0, got %f", s)
	}
	if s := CosineSimilarity(a, []float32{1, 0}); s != 0 {
		t.Errorf("length mismatch should score 0, got %f", s)
	}
}
