package registry

import (
	"iter"
	"os"
	"path/filepath"
	"testing"

	"github.com/flashkv/lsmkv/internal/kvrecord"
	"github.com/flashkv/lsmkv/internal/sstable"
)

func writeTable(t *testing.T, dir string, ts uint64, key string) string {
	t.Helper()
	recs := []kvrecord.Record{{Key: key, Kind: kvrecord.KindData, Value: []byte("v"), Timestamp: ts}}
	seq := iter.Seq[kvrecord.Record](func(yield func(kvrecord.Record) bool) {
		for _, r := range recs {
			if !yield(r) {
				return
			}
		}
	})
	dataPath, _, err := sstable.Write(dir, ts, sstable.DefaultChunkSize, seq)
	if err != nil {
		t.Fatalf("write table: %v", err)
	}
	return dataPath
}

func TestGetOrOpenReturnsSameHandleForSamePath(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeTable(t, dir, 1, "a")

	reg := New(dir)
	h1, err := reg.GetOrOpen(dataPath)
	if err != nil {
		t.Fatalf("get 1: %v", err)
	}
	h2, err := reg.GetOrOpen(dataPath)
	if err != nil {
		t.Fatalf("get 2: %v", err)
	}

	if h1 != h2 {
		t.Fatal("expected the same handle instance for the same data path")
	}

	reg.Release(h1)
	reg.Release(h2)
}

func TestListAllSkipsUnpairedFiles(t *testing.T) {
	dir := t.TempDir()
	writeTable(t, dir, 1, "a")
	writeTable(t, dir, 2, "b")

	// An orphaned data file with no index sibling must be skipped.
	if err := os.WriteFile(filepath.Join(dir, "00000000000000000099.sst"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := New(dir)
	handles, err := reg.ListAll()
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	defer func() {
		for _, h := range handles {
			reg.Release(h)
		}
	}()

	if len(handles) != 2 {
		t.Fatalf("expected 2 paired tables, got %d", len(handles))
	}
}

func TestDropIfUnusedRequiresDeletedAndNoExternalRefs(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeTable(t, dir, 1, "a")

	reg := New(dir)
	h, err := reg.GetOrOpen(dataPath)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	dropped, err := reg.DropIfUnused(dataPath)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if dropped {
		t.Fatal("expected no drop: handle not yet marked deleted")
	}

	reg.MarkDeleted(dataPath)

	dropped, err = reg.DropIfUnused(dataPath)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if dropped {
		t.Fatal("expected no drop: external reference still outstanding")
	}

	reg.Release(h)

	dropped, err = reg.DropIfUnused(dataPath)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if !dropped {
		t.Fatal("expected drop once deleted and unreferenced")
	}

	if _, err := os.Stat(dataPath); !os.IsNotExist(err) {
		t.Fatalf("expected data file removed, stat err=%v", err)
	}
}

func TestMarkDeletedBlocksNewLookups(t *testing.T) {
	dir := t.TempDir()
	dataPath := writeTable(t, dir, 1, "a")

	reg := New(dir)
	h1, err := reg.GetOrOpen(dataPath)
	if err != nil {
		t.Fatal(err)
	}
	reg.MarkDeleted(dataPath)
	reg.Release(h1)

	// A lookup after MarkDeleted (but before DropIfUnused clears the entry)
	// must open a fresh handle rather than return the deleted one.
	h2, err := reg.GetOrOpen(dataPath)
	if err != nil {
		t.Fatalf("get after mark deleted: %v", err)
	}
	if h2 == h1 {
		t.Fatal("expected a fresh handle after the old one was marked deleted")
	}
	reg.Release(h2)
}
