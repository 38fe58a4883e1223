// Package sstable implements the on-disk SSTable format: a sorted-by-key
// record stream materialized as a data file partitioned into page-sized
// chunks plus a companion sparse index file. The writer's chunking loop
// follows the teacher's sst.Writer (track current block size, start a new
// block once it reaches the threshold, record the chunk's first key into
// the index); the bloom filter and footer the teacher also writes are dropped,
// since bloom filters are an explicit non-goal and the spec's index/data
// pair needs no footer.
package sstable

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/flashkv/lsmkv/internal/kvrecord"
)

// IndexFileSuffix is the suffix appended to "<ts>.sst" to name the sparse
// index file.
const IndexFileSuffix = "idx"

// DefaultChunkSize is used when a caller does not specify one.
const DefaultChunkSize = 4096

// DataFileName returns the data file name for a table created at ts.
func DataFileName(ts uint64) string {
	return fmt.Sprintf("%020d.sst", ts)
}

// IndexFileName returns the index file name for a table created at ts.
func IndexFileName(ts uint64) string {
	return DataFileName(ts) + "." + IndexFileSuffix
}

// Write serializes records (already sorted ascending by key, no duplicate
// keys) into a fresh SSTable pair under dir, named by ts. chunkSize is the
// target chunk size in bytes: the record that brings a chunk to chunkSize
// or beyond is the last one in it, so a chunk may exceed chunkSize by up to
// one record, and a record larger than chunkSize may share its chunk with
// the records before it.
//
// Both files are built in temporary locations and only published (renamed)
// into their final names after a successful fsync, so a crash mid-write
// never leaves a half-written file visible under its final name, and the
// data file is always complete by the time the index file appears — a
// reader that sees the index file is entitled to assume the data is done.
func Write(dir string, ts uint64, chunkSize int, records iter.Seq[kvrecord.Record]) (dataPath, indexPath string, err error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	dataPath = filepath.Join(dir, DataFileName(ts))
	indexPath = filepath.Join(dir, IndexFileName(ts))

	dataTmp := dataPath + ".tmp"
	indexTmp := indexPath + ".tmp"
	dataFile, err := os.Create(dataTmp)
	if err != nil {
		return "", "", fmt.Errorf("sstable: create data temp: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(dataTmp)
			os.Remove(indexTmp)
			os.Remove(dataPath)
			os.Remove(indexPath)
		}
	}()

	var (
		entries    []indexEntry
		chunkBytes int
		fileOffset int64
	)

	for rec := range records {
		if chunkBytes == 0 {
			entries = append(entries, indexEntry{key: rec.Key, offset: fileOffset})
		}

		if encErr := rec.Encode(dataFile); encErr != nil {
			dataFile.Close()
			return "", "", fmt.Errorf("sstable: write record: %w", encErr)
		}

		size := rec.Size()
		fileOffset += int64(size)
		chunkBytes += size
		if chunkBytes >= chunkSize {
			chunkBytes = 0
		}
	}

	if syncErr := dataFile.Sync(); syncErr != nil {
		dataFile.Close()
		return "", "", fmt.Errorf("sstable: sync data file: %w", syncErr)
	}
	if closeErr := dataFile.Close(); closeErr != nil {
		return "", "", fmt.Errorf("sstable: close data file: %w", closeErr)
	}

	// The data file MUST be complete and published before the index file
	// is made visible: publish data first, index last.
	if pubErr := atomic.ReplaceFile(dataTmp, dataPath); pubErr != nil {
		return "", "", fmt.Errorf("sstable: publish data file: %w", pubErr)
	}

	indexFile, err := os.Create(indexTmp)
	if err != nil {
		return "", "", fmt.Errorf("sstable: create index temp: %w", err)
	}
	if encErr := encodeIndex(indexFile, entries); encErr != nil {
		indexFile.Close()
		os.Remove(indexTmp)
		return "", "", fmt.Errorf("sstable: write index: %w", encErr)
	}
	if syncErr := indexFile.Sync(); syncErr != nil {
		indexFile.Close()
		return "", "", fmt.Errorf("sstable: sync index file: %w", syncErr)
	}
	if closeErr := indexFile.Close(); closeErr != nil {
		return "", "", fmt.Errorf("sstable: close index file: %w", closeErr)
	}

	if pubErr := atomic.ReplaceFile(indexTmp, indexPath); pubErr != nil {
		return "", "", fmt.Errorf("sstable: publish index file: %w", pubErr)
	}

	return dataPath, indexPath, nil
}
