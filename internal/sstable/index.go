package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/flashkv/lsmkv/internal/kvrecord"
)

// indexEntry maps a sampled key (the first key of a chunk) to that chunk's
// byte offset in the data file.
type indexEntry struct {
	key    string
	offset int64
}

// index is the sparse index loaded fully into memory: one entry per chunk,
// not per record.
type index struct {
	entries []indexEntry
}

// encodeIndex writes the sparse index file format (unchanged, bit-exact,
// from spec.md §6): concatenated key_len:u64 LE | key_bytes | offset:u64 LE
// triplets, ascending by key, no header.
func encodeIndex(w io.Writer, entries []indexEntry) error {
	var buf [8]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(e.key)))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(w, e.key); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(buf[:], uint64(e.offset))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// decodeIndex reads the whole index file into memory.
func decodeIndex(r io.Reader) (*index, error) {
	idx := &index{}
	var lenBuf [8]byte

	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("sstable: truncated index: %w", err)
		}
		keyLen := binary.LittleEndian.Uint64(lenBuf[:])

		keyBytes := make([]byte, keyLen)
		if _, err := io.ReadFull(r, keyBytes); err != nil {
			return nil, fmt.Errorf("sstable: truncated index key: %w", err)
		}

		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("sstable: truncated index offset: %w", err)
		}
		offset := int64(binary.LittleEndian.Uint64(lenBuf[:]))

		idx.entries = append(idx.entries, indexEntry{key: string(keyBytes), offset: offset})
	}

	return idx, nil
}

// findRange returns the half-open byte range [begin, end) of the chunk that
// would contain key, or ok=false if key precedes every entry (the table
// cannot contain it). end is the offset of the successor entry, or dataSize
// when key falls in the last chunk.
func (idx *index) findRange(key string, dataSize int64) (begin, end int64, ok bool) {
	if len(idx.entries) == 0 {
		return 0, 0, false
	}

	// last entry with entries[i].key <= key
	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].key > key
	}) - 1

	if i < 0 {
		return 0, 0, false
	}

	begin = idx.entries[i].offset
	if i+1 < len(idx.entries) {
		end = idx.entries[i+1].offset
	} else {
		end = dataSize
	}
	return begin, end, true
}

// decodeChunk decodes every record in a chunk's raw bytes, in order.
func decodeChunk(data []byte) ([]kvrecord.Record, error) {
	r := bytes.NewReader(data)
	var records []kvrecord.Record
	for r.Len() > 0 {
		rec, err := kvrecord.Decode(r)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
