package sstable

import (
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/flashkv/lsmkv/internal/kvrecord"
)

// Metadata exposes facts about a table's data file used by the compactor
// for size-tiered bucketing.
type Metadata struct {
	Size int64
}

// Reader is an open (data, index) pair. The index is loaded fully into
// memory on construction; the data file is read lazily, chunk by chunk.
type Reader struct {
	dataPath  string
	indexPath string
	data      *os.File
	idx       *index
	dataSize  int64
}

// Open verifies both files exist, loads the index, and returns a Reader. A
// data file without its index sibling is the caller's responsibility to
// detect (see the registry, which skips such pairs entirely).
func Open(dataPath, indexPath string) (*Reader, error) {
	data, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("sstable: open data file: %w", err)
	}

	stat, err := data.Stat()
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("sstable: stat data file: %w", err)
	}

	indexFile, err := os.Open(indexPath)
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("sstable: open index file: %w", err)
	}
	defer indexFile.Close()

	idx, err := decodeIndex(indexFile)
	if err != nil {
		data.Close()
		return nil, err
	}

	return &Reader{
		dataPath:  dataPath,
		indexPath: indexPath,
		data:      data,
		idx:       idx,
		dataSize:  stat.Size(),
	}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.data.Close()
}

// Metadata returns facts about the data file, used by the compactor for
// bucketing.
func (r *Reader) Metadata() Metadata {
	return Metadata{Size: r.dataSize}
}

// Read performs an index-narrowed point read: binary-search the sparse
// index to find the chunk that could hold key, then binary-search within
// the decoded chunk. Returns ok=false if the key is absent, including when
// the index range exists but the key falls in a gap within it.
func (r *Reader) Read(key string) (rec kvrecord.Record, ok bool, err error) {
	begin, end, found := r.idx.findRange(key, r.dataSize)
	if !found {
		return kvrecord.Record{}, false, nil
	}

	chunk := make([]byte, end-begin)
	if _, err := r.data.ReadAt(chunk, begin); err != nil && err != io.EOF {
		return kvrecord.Record{}, false, fmt.Errorf("sstable: read chunk: %w", err)
	}

	records, err := decodeChunk(chunk)
	if err != nil {
		return kvrecord.Record{}, false, err
	}

	lo, hi := 0, len(records)
	for lo < hi {
		mid := (lo + hi) / 2
		if records[mid].Key < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(records) && records[lo].Key == key {
		return records[lo], true, nil
	}

	return kvrecord.Record{}, false, nil
}

// IterAll streams every record chunk by chunk, used by the compactor's
// merge. It never loads the whole data file at once.
func (r *Reader) IterAll() iter.Seq2[kvrecord.Record, error] {
	return func(yield func(kvrecord.Record, error) bool) {
		for i, e := range r.idx.entries {
			begin := e.offset
			var end int64
			if i+1 < len(r.idx.entries) {
				end = r.idx.entries[i+1].offset
			} else {
				end = r.dataSize
			}

			chunk := make([]byte, end-begin)
			if _, err := r.data.ReadAt(chunk, begin); err != nil && err != io.EOF {
				yield(kvrecord.Record{}, fmt.Errorf("sstable: read chunk: %w", err))
				return
			}

			records, err := decodeChunk(chunk)
			if err != nil {
				yield(kvrecord.Record{}, err)
				return
			}

			for _, rec := range records {
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}
