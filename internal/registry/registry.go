// Package registry implements the reader registry: a process-local,
// deduplicated mapping from SSTable data-file path to a shared, reference-
// counted handle. It is what lets a data file be unlinked exactly once,
// only after compaction has marked it deleted AND every outstanding reader
// has released its reference — never while a read is in flight.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/flashkv/lsmkv/internal/sstable"
)

// Registry owns the live set of reader Handles for one SSTable directory.
type Registry struct {
	dir string

	mu      sync.Mutex
	handles map[string]*Handle
}

// New returns a registry rooted at dir (the engine's configured sst_dir).
func New(dir string) *Registry {
	return &Registry{dir: dir, handles: make(map[string]*Handle)}
}

// GetOrOpen returns a live, acquired handle for dataPath, opening it if
// this is the first request. Concurrent callers for the same path always
// observe the same handle. The caller must call Release when done.
func (r *Registry) GetOrOpen(dataPath string) (*Handle, error) {
	r.mu.Lock()
	if h, ok := r.handles[dataPath]; ok && !h.isDeleted() {
		h.acquire()
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	indexPath := dataPath + "." + sstable.IndexFileSuffix
	reader, err := sstable.Open(dataPath, indexPath)
	if err != nil {
		return nil, err
	}

	h := &Handle{dataPath: dataPath, indexPath: indexPath, reader: reader, refs: 1}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handles[dataPath]; ok && !existing.isDeleted() {
		// Lost the race: another goroutine registered first.
		reader.Close()
		existing.acquire()
		return existing, nil
	}

	r.handles[dataPath] = h
	h.acquire() // the caller's reference, on top of the registry's own
	return h, nil
}

// ListAll scans the SSTable directory for every (*.sst, *.sst.idx) pair and
// returns acquired handles for each. Pairs lacking either file are skipped:
// they are either mid-creation or mid-deletion. Callers must Release every
// returned handle.
func (r *Registry) ListAll() ([]*Handle, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: list dir: %w", err)
	}

	dataFiles := make(map[string]bool)
	indexFiles := make(map[string]bool)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".sst."+sstable.IndexFileSuffix):
			dataName := strings.TrimSuffix(name, "."+sstable.IndexFileSuffix)
			indexFiles[dataName] = true
		case strings.HasSuffix(name, ".sst"):
			dataFiles[name] = true
		}
	}

	var names []string
	for name := range dataFiles {
		if indexFiles[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	handles := make([]*Handle, 0, len(names))
	for _, name := range names {
		h, err := r.GetOrOpen(filepath.Join(r.dir, name))
		if err != nil {
			for _, acquired := range handles {
				r.Release(acquired)
			}
			return nil, err
		}
		handles = append(handles, h)
	}

	return handles, nil
}

// Release drops the caller's reference to h, acquired via GetOrOpen or
// ListAll.
func (r *Registry) Release(h *Handle) {
	h.release()
}

// MarkDeleted marks the handle for dataPath as deleted: no new GetOrOpen
// call will return it. It does not unlink files or affect refcounts; call
// DropIfUnused for that once the caller is also done tearing down its own
// reference to the table.
func (r *Registry) MarkDeleted(dataPath string) {
	r.mu.Lock()
	h, ok := r.handles[dataPath]
	r.mu.Unlock()
	if !ok {
		return
	}
	h.markDeleted()
}

// DropIfUnused removes dataPath's registry entry and unlinks both files iff
// the handle is marked deleted and no external reference remains (only the
// registry's own baseline reference is left). Returns whether it unlinked.
func (r *Registry) DropIfUnused(dataPath string) (bool, error) {
	r.mu.Lock()
	h, ok := r.handles[dataPath]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	if !h.isDeleted() || !h.onlyRegistryRefRemains() {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.handles, dataPath)
	r.mu.Unlock()

	if err := h.reader.Close(); err != nil {
		return false, fmt.Errorf("registry: close before unlink: %w", err)
	}
	if err := os.Remove(h.dataPath); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("registry: unlink data file: %w", err)
	}
	if err := os.Remove(h.indexPath); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("registry: unlink index file: %w", err)
	}
	return true, nil
}
