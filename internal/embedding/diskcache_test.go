package embedding

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskCachePutGet(t *testing.T) {
	c, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	hash := HashText("some normalized record text")
	vec := []float32{0.1, -0.5, 0.9}
	if err := c.Put(hash, vec); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Get(hash)
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if len(got) != 3 || got[0] != 0.1 || got[1] != -0.5 || got[2] != 0.9 {
		t.Errorf("round trip mismatch: %v", got)
	}
}

func TestDiskCacheMiss(t *testing.T) {
	c, _ := NewDiskCache(t.TempDir())
	_, ok, err := c.Get(HashText("never stored"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected miss")
	}
}

func TestDiskCacheTornEntry(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewDiskCache(dir)
	hash := HashText("torn")
	if err := c.Put(hash, []float32{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, hash[:2], hash+".vec")
	if err := os.WriteFile(path, []byte{0x03}, 0644); err != nil {
		t.Fatal(err)
	}
	_, ok, err := c.Get(hash)
	if err != nil {
		t.Fatalf("torn entry should not error: %v", err)
	}
	if ok {
		t.Error("torn entry should read as absent")
	}
}

func TestDiskCacheCountClear(t *testing.T) {
	c, _ := NewDiskCache(t.TempDir())
	for _, text := range []string{"a", "b", "c"} {
		if err := c.Put(HashText(text), []float32{1}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := c.Count()
	if err != nil || n != 3 {
		t.Fatalf("expected 3 entries, got %d (%v)", n, err)
	}
	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	n, _ = c.Count()
	if n != 0 {
		t.Errorf("expected empty cache after clear, got %d", n)
	}
}
