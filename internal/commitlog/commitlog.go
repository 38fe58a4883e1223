// Package commitlog implements the write-ahead log segment that is paired
// 1:1 with the live MemTable. Each segment is a create-exclusive file named
// commit_<monotonic>.log; appends are opcode-prefixed WALFrame encodings
// written synchronously under the engine's critical section, mirroring the
// teacher's wal/wal_writer.go file-handling but dropping its background
// channel/goroutine loop, since here the caller already holds the lock that
// serializes writers.
package commitlog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/flashkv/lsmkv/internal/kvrecord"
)

const fileExt = ".log"

var segmentNamePattern = regexp.MustCompile(`^commit_(\d+)\.log$`)

// Segment is one WAL file paired with a live MemTable.
type Segment struct {
	dir  string
	id   uint64
	path string
	f    *os.File
}

// Create makes a new create-exclusive segment file named commit_<id>.log in
// dir. id should come from the engine's timestamp source so segments sort
// in creation order.
func Create(dir string, id uint64) (*Segment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("commitlog: create dir: %w", err)
	}

	path := filepath.Join(dir, segmentName(id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("commitlog: create segment: %w", err)
	}

	return &Segment{dir: dir, id: id, path: path, f: f}, nil
}

func segmentName(id uint64) string {
	return fmt.Sprintf("commit_%020d%s", id, fileExt)
}

// Path returns the segment's file path.
func (s *Segment) Path() string { return s.path }

// AppendPut writes a PUT frame for (key, value, ts). The write is a single
// os.File.Write call; it is not fsync'd here (see Sync).
func (s *Segment) AppendPut(key string, value []byte, ts uint64) error {
	return s.appendFrame(kvrecord.WALFrame{Op: kvrecord.OpPut, Key: key, Value: value, Timestamp: ts})
}

// AppendDelete writes a DELETE frame for (key, ts), also as a single
// os.File.Write call.
func (s *Segment) AppendDelete(key string, ts uint64) error {
	return s.appendFrame(kvrecord.WALFrame{Op: kvrecord.OpDelete, Key: key, Timestamp: ts})
}

// appendFrame encodes frame in memory and writes it with one Write call.
func (s *Segment) appendFrame(frame kvrecord.WALFrame) error {
	var buf bytes.Buffer
	if err := frame.Encode(&buf); err != nil {
		return err
	}
	_, err := s.f.Write(buf.Bytes())
	return err
}

// Sync fsyncs the segment file. The engine MUST call this before handing
// the segment to Unlink via the flush worker, so that recovery either sees
// the segment (and can replay it) or sees the promoted SSTable (and does
// not need to).
func (s *Segment) Sync() error {
	return s.f.Sync()
}

// CloneHandle reopens the segment's path as a second, independent file
// descriptor so a flush worker can own its own *os.File for the frozen
// segment without racing the writer that installed a fresh segment in its
// place. The new descriptor has its own file offset, which is fine here:
// the flush worker only calls Unlink on its clone, never appends.
func (s *Segment) CloneHandle() (*Segment, error) {
	f, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("commitlog: clone handle: %w", err)
	}
	return &Segment{dir: s.dir, id: s.id, path: s.path, f: f}, nil
}

// Unlink closes and removes the segment file. Callers must only do this
// after the segment's MemTable has been durably promoted to an SSTable.
func (s *Segment) Unlink() error {
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("commitlog: close before unlink: %w", err)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("commitlog: unlink: %w", err)
	}
	return nil
}

// Close closes the underlying file without removing it.
func (s *Segment) Close() error {
	return s.f.Close()
}

// segmentEntry pairs a segment id with its file name, used only while
// scanning the commit log directory.
type segmentEntry struct {
	id   uint64
	name string
}

type segmentEntries []segmentEntry

func (e segmentEntries) Len() int           { return len(e) }
func (e segmentEntries) Swap(i, j int)      { e[i], e[j] = e[j], e[i] }
func (e segmentEntries) Less(i, j int) bool { return e[i].id < e[j].id }

// ListSegments scans dir for commit_<id>.log files and returns their ids in
// ascending (creation) order, matching the teacher's segmentmanager
// directory-scan idiom. Foreign files are ignored.
func ListSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("commitlog: list segments: %w", err)
	}

	var found segmentEntries
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		matches := segmentNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 2 {
			continue
		}
		id, err := strconv.ParseUint(matches[1], 10, 64)
		if err != nil {
			continue
		}
		found = append(found, segmentEntry{id: id, name: entry.Name()})
	}

	sort.Sort(found)

	ids := make([]uint64, len(found))
	for i, e := range found {
		ids[i] = e.id
	}
	return ids, nil
}

// Open opens an existing segment file for replay (read-only).
func Open(dir string, id uint64) (*Segment, error) {
	path := filepath.Join(dir, segmentName(id))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("commitlog: open segment: %w", err)
	}
	return &Segment{dir: dir, id: id, path: path, f: f}, nil
}
