package registry

import (
	"iter"
	"sync/atomic"

	"github.com/flashkv/lsmkv/internal/kvrecord"
	"github.com/flashkv/lsmkv/internal/sstable"
)

// Handle is a shared, reference-counted view of one open SSTable pair.
type Handle struct {
	dataPath  string
	indexPath string
	reader    *sstable.Reader

	refs    int32 // includes the registry's own baseline ownership
	deleted atomic.Bool
}

// Path returns the data file path identifying this handle.
func (h *Handle) Path() string { return h.dataPath }

// Read performs an index-narrowed point read on the underlying table.
func (h *Handle) Read(key string) (kvrecord.Record, bool, error) {
	return h.reader.Read(key)
}

// Metadata exposes the data file's size, used by the compactor for
// bucketing.
func (h *Handle) Metadata() sstable.Metadata {
	return h.reader.Metadata()
}

// IterAll streams every record in the table, chunk by chunk.
func (h *Handle) IterAll() iter.Seq2[kvrecord.Record, error] {
	return h.reader.IterAll()
}

func (h *Handle) acquire() {
	atomic.AddInt32(&h.refs, 1)
}

func (h *Handle) release() {
	atomic.AddInt32(&h.refs, -1)
}

func (h *Handle) isDeleted() bool {
	return h.deleted.Load()
}

func (h *Handle) markDeleted() {
	h.deleted.Store(true)
}

func (h *Handle) onlyRegistryRefRemains() bool {
	return atomic.LoadInt32(&h.refs) <= 1
}
