package compaction

import (
	"container/heap"
	"fmt"
	"iter"

	"github.com/flashkv/lsmkv/internal/kvrecord"
	"github.com/flashkv/lsmkv/internal/registry"
)

// mergeHandles k-way merges the ascending-key streams of every table in
// bucket into one ascending-key stream. When multiple inputs have the same
// key, the record with the greatest timestamp wins and all heads holding
// that key are advanced together — duplicates across tables are collapsed.
// Tombstones are never dropped: an older, larger SSTable outside the bucket
// may still hold a live value for a tombstoned key.
//
// The returned *error is nil until the sequence has been fully drained; a
// caller that has not consumed the whole iter.Seq must not read it. A
// decode error partway through one input table sets it, so that a merge
// reader can detect "this bucket's merged output is not trustworthy" even
// though the iter.Seq itself just looks like early exhaustion.
func mergeHandles(bucket []*registry.Handle) (iter.Seq[kvrecord.Record], *error) {
	var mergeErr error

	seq := iter.Seq[kvrecord.Record](func(yield func(kvrecord.Record) bool) {
		streams := make([]*mergeStream, 0, len(bucket))
		for _, h := range bucket {
			next, stop := iter.Pull2(h.IterAll())
			defer stop()
			ms := &mergeStream{next: next}
			if ms.advance() {
				streams = append(streams, ms)
			} else if ms.err != nil {
				mergeErr = fmt.Errorf("compaction: read %s: %w", h.Path(), ms.err)
			}
		}

		h := &streamHeap{streams: streams}
		heap.Init(h)

		for h.Len() > 0 {
			lowestKey := h.streams[0].rec.Key

			var winner kvrecord.Record
			haveWinner := false

			for h.Len() > 0 && h.streams[0].rec.Key == lowestKey {
				s := heap.Pop(h).(*mergeStream)
				if !haveWinner || s.rec.Timestamp > winner.Timestamp {
					winner = s.rec
					haveWinner = true
				}
				if s.advance() {
					heap.Push(h, s)
				} else if s.err != nil {
					mergeErr = fmt.Errorf("compaction: read input table: %w", s.err)
				}
			}

			if !yield(winner) {
				return
			}
		}
	})

	return seq, &mergeErr
}

// mergeStream is one input table's position in the merge, pulled lazily
// via iter.Pull2 so the compactor never loads a whole table into memory.
type mergeStream struct {
	next func() (kvrecord.Record, error, bool)
	rec  kvrecord.Record
	err  error
}

func (s *mergeStream) advance() bool {
	rec, err, ok := s.next()
	if !ok || err != nil {
		// A decode error mid-stream means the remainder of this table's
		// chunk can't be trusted; stop merging from it rather than risk
		// feeding corrupt records into the merged output.
		s.err = err
		return false
	}
	s.rec = rec
	return true
}

// streamHeap orders mergeStreams by their current head key, ascending.
type streamHeap struct {
	streams []*mergeStream
}

func (h *streamHeap) Len() int { return len(h.streams) }
func (h *streamHeap) Less(i, j int) bool {
	return h.streams[i].rec.Key < h.streams[j].rec.Key
}
func (h *streamHeap) Swap(i, j int) { h.streams[i], h.streams[j] = h.streams[j], h.streams[i] }
func (h *streamHeap) Push(x any)    { h.streams = append(h.streams, x.(*mergeStream)) }
func (h *streamHeap) Pop() any {
	old := h.streams
	n := len(old)
	item := old[n-1]
	h.streams = old[:n-1]
	return item
}
