package compaction

import (
	"iter"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flashkv/lsmkv/internal/kvrecord"
	"github.com/flashkv/lsmkv/internal/registry"
	"github.com/flashkv/lsmkv/internal/sstable"
)

// fakeClock hands out strictly increasing timestamps without touching the
// wall clock, so tests stay deterministic.
type fakeClock struct{ n uint64 }

func (c *fakeClock) Next() uint64 {
	c.n++
	return c.n
}

func writeTable(t *testing.T, dir string, ts uint64, recs []kvrecord.Record) string {
	t.Helper()
	seq := iter.Seq[kvrecord.Record](func(yield func(kvrecord.Record) bool) {
		for _, r := range recs {
			if !yield(r) {
				return
			}
		}
	})
	dataPath, _, err := sstable.Write(dir, ts, sstable.DefaultChunkSize, seq)
	if err != nil {
		t.Fatalf("write table %d: %v", ts, err)
	}
	return dataPath
}

func rec(key string, value string, ts uint64) kvrecord.Record {
	return kvrecord.Record{Key: key, Kind: kvrecord.KindData, Value: []byte(value), Timestamp: ts}
}

func TestBucketOfGroupsSimilarSizedTables(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(dir)

	// Two small, similarly sized tables and one much larger one: the large
	// table should land in its own bucket.
	p1 := writeTable(t, dir, 1, []kvrecord.Record{rec("a", "1", 1)})
	p2 := writeTable(t, dir, 2, []kvrecord.Record{rec("b", "2", 2)})
	p3 := writeTable(t, dir, 3, []kvrecord.Record{
		rec("c", string(make([]byte, 4096)), 3),
		rec("d", string(make([]byte, 4096)), 4),
		rec("e", string(make([]byte, 4096)), 5),
	})

	h1, err := reg.GetOrOpen(p1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := reg.GetOrOpen(p2)
	if err != nil {
		t.Fatal(err)
	}
	h3, err := reg.GetOrOpen(p3)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Release(h1)
	defer reg.Release(h2)
	defer reg.Release(h3)

	buckets := bucketOf([]*registry.Handle{h1, h2, h3}, DefaultOptions())
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets (2 small + 1 large), got %d: %+v", len(buckets), buckets)
	}
}

func TestChooseBucketRequiresThreshold(t *testing.T) {
	small := [][]*registry.Handle{
		{&registry.Handle{}, &registry.Handle{}},
	}
	opts := Options{BucketThreshold: 4}
	if got := chooseBucket(small, opts); got != nil {
		t.Fatalf("expected nil bucket below threshold, got %d entries", len(got))
	}
}

func TestMergeHandlesLatestTimestampWins(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(dir)

	p1 := writeTable(t, dir, 1, []kvrecord.Record{rec("k", "old", 1)})
	p2 := writeTable(t, dir, 2, []kvrecord.Record{rec("k", "new", 2)})

	h1, err := reg.GetOrOpen(p1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := reg.GetOrOpen(p2)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Release(h1)
	defer reg.Release(h2)

	var got []kvrecord.Record
	seq, mergeErr := mergeHandles([]*registry.Handle{h1, h2})
	for r := range seq {
		got = append(got, r)
	}
	require.NoError(t, *mergeErr)

	if len(got) != 1 || string(got[0].Value) != "new" {
		t.Fatalf("expected single merged record with latest value, got %+v", got)
	}
}

func TestMergeHandlesPreservesTombstones(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(dir)

	p1 := writeTable(t, dir, 1, []kvrecord.Record{rec("k", "v", 1)})
	p2 := writeTable(t, dir, 2, []kvrecord.Record{{Key: "k", Kind: kvrecord.KindTombstone, Timestamp: 2}})

	h1, err := reg.GetOrOpen(p1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := reg.GetOrOpen(p2)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Release(h1)
	defer reg.Release(h2)

	var got []kvrecord.Record
	seq, mergeErr := mergeHandles([]*registry.Handle{h1, h2})
	for r := range seq {
		got = append(got, r)
	}
	require.NoError(t, *mergeErr)

	if len(got) != 1 || !got[0].IsTombstone() {
		t.Fatalf("expected merged tombstone to survive, got %+v", got)
	}
}

func TestMergeHandlesInterleavesDistinctKeys(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(dir)

	p1 := writeTable(t, dir, 1, []kvrecord.Record{rec("a", "1", 1), rec("c", "3", 1)})
	p2 := writeTable(t, dir, 2, []kvrecord.Record{rec("b", "2", 2)})

	h1, err := reg.GetOrOpen(p1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := reg.GetOrOpen(p2)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Release(h1)
	defer reg.Release(h2)

	var keys []string
	seq, mergeErr := mergeHandles([]*registry.Handle{h1, h2})
	for r := range seq {
		keys = append(keys, r.Key)
	}
	require.NoError(t, *mergeErr)

	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("got %v want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v want %v", keys, want)
		}
	}
}

func TestCompactAllMergesAndUnlinksInputs(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(dir)

	writeTable(t, dir, 1, []kvrecord.Record{rec("a", "1", 1)})
	writeTable(t, dir, 2, []kvrecord.Record{rec("b", "2", 2)})

	// Start the clock past the input tables' timestamps so the merged table
	// gets a fresh name, as it does under the engine's shared clock.
	strat := NewSizeTiered(DefaultOptions(), nil)
	require.NoError(t, strat.CompactAll(reg, dir, &fakeClock{n: 2}))

	handles, err := reg.ListAll()
	require.NoError(t, err)
	defer func() {
		for _, h := range handles {
			reg.Release(h)
		}
	}()

	require.Len(t, handles, 1, "expected exactly one merged table")

	gotA, ok, err := handles[0].Read("a")
	require.NoError(t, err)
	require.True(t, ok, "merged table missing key a")
	require.Equal(t, "1", string(gotA.Value))

	gotB, ok, err := handles[0].Read("b")
	require.NoError(t, err)
	require.True(t, ok, "merged table missing key b")
	require.Equal(t, "2", string(gotB.Value))
}

func TestCompactAllRequiresAtLeastTwoTables(t *testing.T) {
	dir := t.TempDir()
	reg := registry.New(dir)
	writeTable(t, dir, 1, []kvrecord.Record{rec("a", "1", 1)})

	strat := NewSizeTiered(DefaultOptions(), nil)
	require.NoError(t, strat.CompactAll(reg, dir, &fakeClock{}))

	handles, err := reg.ListAll()
	require.NoError(t, err)
	defer func() {
		for _, h := range handles {
			reg.Release(h)
		}
	}()
	require.Len(t, handles, 1, "expected single table to remain untouched")
}
