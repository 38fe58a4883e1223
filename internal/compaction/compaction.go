// Package compaction implements the size-tiered compaction strategy: bucket
// selection by data-file size, a k-way merge by timestamp, and an atomic
// install of the merged result. Leveled compaction is out of scope; the
// Strategy interface exists only so the choice is pluggable in principle.
package compaction

import (
	"fmt"
	"os"
	"sort"

	"github.com/flashkv/lsmkv/internal/kvclock"
	"github.com/flashkv/lsmkv/internal/kvlog"
	"github.com/flashkv/lsmkv/internal/registry"
	"github.com/flashkv/lsmkv/internal/sstable"
)

// Options configures size-tiered bucketing.
type Options struct {
	MinThreshold    float64 // default 0.5
	MaxThreshold    float64 // default 1.5
	BucketThreshold int     // minimum bucket size to trigger a merge, default 4
	ChunkSize       int     // SSTable chunk size for the merged output
}

// DefaultOptions returns the spec's documented defaults.
func DefaultOptions() Options {
	return Options{
		MinThreshold:    0.5,
		MaxThreshold:    1.5,
		BucketThreshold: 4,
		ChunkSize:       sstable.DefaultChunkSize,
	}
}

// Strategy is the pluggable compaction interface; only SizeTiered is
// specified.
type Strategy interface {
	Compact(reg *registry.Registry, sstDir string, clock kvclock.Source) error
}

// SizeTiered implements Strategy.
type SizeTiered struct {
	Opts Options
	Log  *kvlog.Logger
}

// NewSizeTiered returns a ready-to-use size-tiered strategy.
func NewSizeTiered(opts Options, log *kvlog.Logger) *SizeTiered {
	if log == nil {
		log = kvlog.Nop()
	}
	return &SizeTiered{Opts: opts, Log: log}
}

// bucketOf buckets tables by data-file size ascending, greedily placing
// each into the first existing bucket whose mean size m satisfies
// m*min < size < m*max, else opening a new bucket.
func bucketOf(handles []*registry.Handle, opts Options) [][]*registry.Handle {
	sorted := append([]*registry.Handle(nil), handles...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Metadata().Size < sorted[j].Metadata().Size
	})

	var buckets [][]*registry.Handle
	var sums []int64

	for _, h := range sorted {
		size := h.Metadata().Size
		placed := false

		for i, bucket := range buckets {
			mean := float64(sums[i]) / float64(len(bucket))
			if mean*opts.MinThreshold < float64(size) && float64(size) < mean*opts.MaxThreshold {
				buckets[i] = append(bucket, h)
				sums[i] += size
				placed = true
				break
			}
		}

		if !placed {
			buckets = append(buckets, []*registry.Handle{h})
			sums = append(sums, size)
		}
	}

	return buckets
}

// chooseBucket returns the largest bucket by count, or nil if the largest
// bucket is still below BucketThreshold.
func chooseBucket(buckets [][]*registry.Handle, opts Options) []*registry.Handle {
	var best []*registry.Handle
	for _, b := range buckets {
		if len(b) > len(best) {
			best = b
		}
	}
	if len(best) < opts.BucketThreshold {
		return nil
	}
	return best
}

// Compact runs one size-tiered tick: snapshot the registry, bucket live
// tables, pick the largest bucket, merge it, install the result, and mark
// inputs deleted. If no bucket meets BucketThreshold, this is a no-op —
// which is also how a single-table "compaction" (a single bucket of size 1)
// correctly converges to doing nothing.
func (s *SizeTiered) Compact(reg *registry.Registry, sstDir string, clock kvclock.Source) error {
	handles, err := reg.ListAll()
	if err != nil {
		return fmt.Errorf("compaction: list tables: %w", err)
	}

	return s.compactHandles(reg, sstDir, clock, handles, false)
}

// CompactAll runs compaction synchronously across every live table, not
// just one bucket — the manual compaction entry point used by tests.
func (s *SizeTiered) CompactAll(reg *registry.Registry, sstDir string, clock kvclock.Source) error {
	handles, err := reg.ListAll()
	if err != nil {
		return fmt.Errorf("compaction: list tables: %w", err)
	}

	return s.compactHandles(reg, sstDir, clock, handles, true)
}

// compactHandles takes over the references in handles and releases them,
// before DropIfUnused on success so the merged inputs can be unlinked.
func (s *SizeTiered) compactHandles(reg *registry.Registry, sstDir string, clock kvclock.Source, handles []*registry.Handle, all bool) error {
	defer func() {
		for _, h := range handles {
			reg.Release(h)
		}
	}()

	var bucket []*registry.Handle
	if all {
		if len(handles) < 2 {
			return nil
		}
		bucket = handles
	} else {
		buckets := bucketOf(handles, s.Opts)
		bucket = chooseBucket(buckets, s.Opts)
		if bucket == nil {
			return nil
		}
	}

	s.Log.Infow("compaction starting", "tables", len(bucket))

	ts := clock.Next()
	mergeSeq, mergeErr := mergeHandles(bucket)
	dataPath, indexPath, err := sstable.Write(sstDir, ts, s.Opts.ChunkSize, mergeSeq)
	if err == nil {
		// mergeHandles sets *mergeErr lazily while the sequence is drained;
		// it is only safe to read now that sstable.Write has consumed the
		// whole thing. A decode error mid-table must abort the compaction
		// exactly like a write failure: inputs stay intact for the next
		// tick to retry.
		err = *mergeErr
	}
	if err != nil {
		os.Remove(dataPath)
		os.Remove(indexPath)
		s.Log.Errorw("compaction merge failed, inputs left intact", "err", err)
		return fmt.Errorf("compaction: write merged table: %w", err)
	}

	for _, h := range bucket {
		reg.MarkDeleted(h.Path())
	}
	for _, h := range handles {
		reg.Release(h)
	}
	handles = nil
	for _, h := range bucket {
		if _, err := reg.DropIfUnused(h.Path()); err != nil {
			s.Log.Warnw("compaction: could not unlink input table", "path", h.Path(), "err", err)
		}
	}

	s.Log.Infow("compaction finished", "merged_data", dataPath, "merged_index", indexPath, "inputs", len(bucket))
	return nil
}
