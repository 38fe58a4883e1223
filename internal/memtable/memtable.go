// Package memtable provides the mutable, ordered-by-key in-memory table
// that absorbs current writes ahead of being flushed to an SSTable. It is
// implemented as a skip list, generalized from the teacher's generic
// Record[K, V] map to the domain's (string key -> timestamped payload)
// shape.
package memtable

import (
	"iter"

	"github.com/flashkv/lsmkv/internal/kvrecord"
)

// Entry is the value a MemTable stores per key: either live data or a
// tombstone, both carrying the timestamp assigned at write time.
type Entry struct {
	Kind      kvrecord.Kind
	Value     []byte
	Timestamp uint64
}

// IsTombstone reports whether e represents a logical deletion.
func (e Entry) IsTombstone() bool {
	return e.Kind == kvrecord.KindTombstone
}

// record builds the kvrecord.Record this entry would encode to, used to
// compute serialized byte cost and to feed the SSTable writer during flush.
func (e Entry) record(key string) kvrecord.Record {
	return kvrecord.Record{Key: key, Kind: e.Kind, Value: e.Value, Timestamp: e.Timestamp}
}

// MemTable is an ordered map from key to its most recent Entry.
//
// Invariants: at most one record per key; a later Put/Delete (by arrival
// order within this MemTable) always overwrites an earlier one for the same
// key regardless of the incoming timestamp; Len reports the cumulative
// serialized byte cost of all records, used for the flush threshold test.
type MemTable struct {
	sl *skipList
}

// New returns an empty MemTable.
func New() *MemTable {
	return &MemTable{sl: newSkipList()}
}

// Put inserts or overwrites the record for key, returning the prior entry
// if one existed.
func (m *MemTable) Put(key string, value []byte, ts uint64) (Entry, bool) {
	return m.sl.put(key, Entry{Kind: kvrecord.KindData, Value: value, Timestamp: ts})
}

// Delete inserts a tombstone for key at ts, returning the prior entry if
// one existed.
func (m *MemTable) Delete(key string, ts uint64) (Entry, bool) {
	return m.sl.put(key, Entry{Kind: kvrecord.KindTombstone, Timestamp: ts})
}

// Get returns the entry stored for key, if any.
func (m *MemTable) Get(key string) (Entry, bool) {
	return m.sl.get(key)
}

// Len reports the cumulative encoded byte cost of every record currently
// held, used only for the flush-threshold test.
func (m *MemTable) Len() int64 {
	return m.sl.byteSize
}

// Count reports the number of distinct keys held.
func (m *MemTable) Count() int {
	return m.sl.size
}

// Iter yields every record in ascending key order, used only by flush.
func (m *MemTable) Iter() iter.Seq[kvrecord.Record] {
	return func(yield func(kvrecord.Record) bool) {
		for key, entry := range m.sl.iter() {
			if !yield(entry.record(key)) {
				return
			}
		}
	}
}
