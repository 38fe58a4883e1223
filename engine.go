// Package lsmkv is an embedded, single-node key-value storage engine
// organized as a log-structured merge-tree. Point writes and deletes go to
// an in-memory sorted table backed by a write-ahead log; the table is
// flushed to an immutable, sorted SSTable once it crosses a size
// threshold, and a background compactor periodically merges similarly
// sized SSTables together.
package lsmkv

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/flashkv/lsmkv/internal/commitlog"
	"github.com/flashkv/lsmkv/internal/compaction"
	"github.com/flashkv/lsmkv/internal/config"
	"github.com/flashkv/lsmkv/internal/kvclock"
	"github.com/flashkv/lsmkv/internal/kvlog"
	"github.com/flashkv/lsmkv/internal/kvrecord"
	"github.com/flashkv/lsmkv/internal/memtable"
	"github.com/flashkv/lsmkv/internal/pageprobe"
	"github.com/flashkv/lsmkv/internal/pool"
	"github.com/flashkv/lsmkv/internal/registry"
	"github.com/flashkv/lsmkv/internal/sstable"
)

// Config is the engine's configuration, re-exported from internal/config so
// callers don't need to import an internal package.
type Config = config.Config

// Option mutates a Config under construction; see the With* functions in
// the config package.
type Option = config.Option

// Engine is a single embedded LSM-tree instance rooted at its configured
// directories.
type Engine struct {
	cfg   Config
	clock kvclock.Source
	log   *kvlog.Logger
	reg   *registry.Registry
	pool  *pool.Pool
	comp  *compaction.SizeTiered

	// mu guards mem and wal together: the spec requires the WAL append and
	// the MemTable mutation to be one atomic step from an external
	// observer's perspective.
	mu  sync.Mutex
	mem *memtable.MemTable
	wal *commitlog.Segment

	// barrier separates the compactor's atomic table swap from a get's
	// SSTable fan-out: the compactor holds the write side across its whole
	// snapshot-merge-install-delete sequence, a reader holds the read side
	// across its whole fan-out.
	barrier sync.RWMutex

	flushWG        sync.WaitGroup
	stopCompaction chan struct{}
	compactionDone chan struct{}

	closed bool
}

// New opens or creates an engine at the directories named by cfg. If
// commit log segments already exist (an unclean prior shutdown), they are
// replayed into a fresh MemTable, flushed to a new SSTable, and unlinked
// before the engine accepts new writes.
func New(cfg Config, opts ...Option) (*Engine, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	applyPageProbeDefaults(&cfg, pageprobe.OS{})

	if err := os.MkdirAll(cfg.SSTDir, 0o755); err != nil {
		return nil, wrapIO("create sst dir", err)
	}
	if err := os.MkdirAll(cfg.CommitLogDir, 0o755); err != nil {
		return nil, wrapIO("create commitlog dir", err)
	}

	e := &Engine{
		cfg:            cfg,
		clock:          kvclock.NewWallClock(),
		log:            kvlog.Nop(),
		reg:            registry.New(cfg.SSTDir),
		stopCompaction: make(chan struct{}),
		compactionDone: make(chan struct{}),
	}

	if err := e.recover(); err != nil {
		return nil, err
	}

	seg, err := commitlog.Create(cfg.CommitLogDir, e.clock.Next())
	if err != nil {
		return nil, wrapIO("create initial commit log segment", err)
	}
	e.mem = memtable.New()
	e.wal = seg

	e.pool = pool.New(cfg.FlushWorkers, cfg.FlushWorkers*4)
	e.comp = compaction.NewSizeTiered(compaction.Options{
		MinThreshold:    cfg.CompactionMinThreshold,
		MaxThreshold:    cfg.CompactionMaxThreshold,
		BucketThreshold: cfg.CompactionBucketThreshold,
		ChunkSize:       cfg.IndexInterval,
	}, e.log)

	if cfg.EnableCompaction {
		go e.compactionLoop()
	} else {
		close(e.compactionDone)
	}

	return e, nil
}

// applyPageProbeDefaults fills in chunk-size-shaped fields the caller left
// unset (zero) with multiples of the platform's page size, the "page_size"
// external collaborator named in spec.md §6. A caller that set these fields
// explicitly (via Default, a config file, or flags) is never overridden.
func applyPageProbeDefaults(cfg *Config, probe pageprobe.Prober) {
	page := probe.Size()
	if cfg.IndexInterval <= 0 {
		cfg.IndexInterval = page
	}
	if cfg.MemtableThreshold <= 0 {
		cfg.MemtableThreshold = int64(page) * 64
	}
}

// WithLogger attaches a logger after construction; useful since the Logger
// type lives in an internal package and can't be threaded through a
// config.Option.
func (e *Engine) WithLogger(log *kvlog.Logger) *Engine {
	if log != nil {
		e.log = log
		if e.comp != nil {
			e.comp.Log = log
		}
	}
	return e
}

// recover replays any existing commit log segments (left behind by an
// unclean shutdown) into a fresh MemTable, flushes that MemTable to a new
// SSTable, and unlinks the old segments. Segments are left in place if
// recovery fails at any step, so the next startup retries.
func (e *Engine) recover() error {
	ids, err := commitlog.ListSegments(e.cfg.CommitLogDir)
	if err != nil {
		return wrapIO("list commit log segments for recovery", err)
	}
	if len(ids) == 0 {
		return nil
	}

	recovered := memtable.New()
	var segments []*commitlog.Segment

	for _, id := range ids {
		seg, err := commitlog.Open(e.cfg.CommitLogDir, id)
		if err != nil {
			return wrapIO("open commit log segment for recovery", err)
		}
		segments = append(segments, seg)

		replayErr := commitlog.Replay(seg, func(frame kvrecord.WALFrame) {
			switch frame.Op {
			case kvrecord.OpPut:
				recovered.Put(frame.Key, frame.Value, frame.Timestamp)
			case kvrecord.OpDelete:
				recovered.Delete(frame.Key, frame.Timestamp)
			}
		})
		if replayErr != nil {
			return wrapIO("replay commit log segment", replayErr)
		}
	}

	if recovered.Count() > 0 {
		ts := e.clock.Next()
		if _, _, err := sstable.Write(e.cfg.SSTDir, ts, e.cfg.IndexInterval, recovered.Iter()); err != nil {
			return wrapIO("flush recovered memtable", err)
		}
	}

	for _, seg := range segments {
		if err := seg.Unlink(); err != nil {
			return wrapIO("unlink recovered commit log segment", err)
		}
	}

	return nil
}

// Put inserts or overwrites key with value. A nil value records a
// tombstone (logical deletion).
func (e *Engine) Put(key string, value []byte) error {
	if value != nil && len(value) == 0 {
		return ErrEmptyValue
	}

	ts := e.clock.Next()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	var appendErr error
	if value != nil {
		appendErr = e.wal.AppendPut(key, value, ts)
	} else {
		appendErr = e.wal.AppendDelete(key, ts)
	}
	if appendErr != nil {
		e.mu.Unlock()
		return wrapIO("append WAL record", appendErr)
	}

	if value != nil {
		e.mem.Put(key, value, ts)
	} else {
		e.mem.Delete(key, ts)
	}

	if e.mem.Len() >= e.cfg.MemtableThreshold {
		e.rotate()
	}
	e.mu.Unlock()

	return nil
}

// Delete is a convenience wrapper around Put(key, nil).
func (e *Engine) Delete(key string) error {
	return e.Put(key, nil)
}

// rotate freezes the active MemTable/CommitLog pair, installs a fresh pair,
// and dispatches the frozen pair to the flush pool. Must be called with mu
// held; the new pair is visible before this function returns, so a
// subsequent Put never stalls on flush I/O.
func (e *Engine) rotate() {
	frozenMem := e.mem
	frozenWAL := e.wal

	if err := frozenWAL.Sync(); err != nil {
		e.log.Errorw("failed to sync commit log segment before flush, skipping rotation", "err", err)
		return
	}

	newSeg, err := commitlog.Create(e.cfg.CommitLogDir, e.clock.Next())
	if err != nil {
		e.log.Errorw("failed to create new commit log segment, skipping rotation", "err", err)
		return
	}

	flushHandle, err := frozenWAL.CloneHandle()
	if err != nil {
		e.log.Errorw("failed to clone frozen commit log handle, skipping rotation", "err", err)
		newSeg.Unlink()
		return
	}
	frozenWAL.Close()

	e.mem = memtable.New()
	e.wal = newSeg

	e.flushWG.Add(1)
	e.pool.Execute(func() {
		defer e.flushWG.Done()
		e.flush(frozenMem, flushHandle)
	})
}

// flush writes a frozen MemTable to a new SSTable and unlinks its paired
// WAL segment. On failure it logs and leaves the WAL segment in place so
// recovery can replay it on next startup.
func (e *Engine) flush(mem *memtable.MemTable, seg *commitlog.Segment) {
	ts := e.clock.Next()
	dataPath, indexPath, err := sstable.Write(e.cfg.SSTDir, ts, e.cfg.IndexInterval, mem.Iter())
	if err != nil {
		e.log.Errorw("flush failed, retaining WAL segment for recovery", "segment", seg.Path(), "err", err)
		return
	}

	if err := seg.Unlink(); err != nil {
		e.log.Errorw("failed to unlink flushed WAL segment", "segment", seg.Path(), "err", err)
		return
	}

	e.log.Infow("flush complete", "data", dataPath, "index", indexPath, "records", mem.Count())
}

// Get returns the current value for key, nil if it is absent or has been
// deleted.
func (e *Engine) Get(key string) ([]byte, error) {
	e.mu.Lock()
	closed := e.closed
	entry, ok := e.mem.Get(key)
	e.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}

	if ok {
		if entry.IsTombstone() {
			return nil, nil
		}
		return entry.Value, nil
	}

	e.barrier.RLock()
	defer e.barrier.RUnlock()

	handles, err := e.reg.ListAll()
	if err != nil {
		return nil, wrapIO("list SSTables", err)
	}
	defer func() {
		for _, h := range handles {
			e.reg.Release(h)
		}
	}()

	var best kvrecord.Record
	haveBest := false

	for _, h := range handles {
		rec, found, err := h.Read(key)
		if err != nil {
			return nil, wrapIO(fmt.Sprintf("read %s", h.Path()), err)
		}
		if found && (!haveBest || rec.Timestamp > best.Timestamp) {
			best = rec
			haveBest = true
		}
	}

	if !haveBest || best.IsTombstone() {
		return nil, nil
	}
	return best.Value, nil
}

// LaunchCompaction synchronously compacts every live SSTable together, for
// tests. Production compaction runs on the background tick instead.
func (e *Engine) LaunchCompaction() error {
	e.barrier.Lock()
	defer e.barrier.Unlock()
	return e.comp.CompactAll(e.reg, e.cfg.SSTDir, e.clock)
}

func (e *Engine) compactionLoop() {
	defer close(e.compactionDone)

	interval := time.Duration(e.cfg.CompactionIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.barrier.Lock()
			if err := e.comp.Compact(e.reg, e.cfg.SSTDir, e.clock); err != nil {
				e.log.Errorw("compaction tick failed, inputs left intact", "err", err)
			}
			e.barrier.Unlock()
		case <-e.stopCompaction:
			return
		}
	}
}

// Close stops the compactor, flushes the active MemTable, waits for any
// in-flight background flush to finish, and shuts down the flush pool. The
// distilled spec does not name a Close method, since its source treats
// process exit as the only shutdown path; an embeddable Go library needs
// one because Go has no implicit destructors.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	mem := e.mem
	seg := e.wal
	e.mu.Unlock()

	if e.cfg.EnableCompaction {
		close(e.stopCompaction)
		<-e.compactionDone
	}

	e.flushWG.Wait()
	e.pool.Shutdown()

	if err := seg.Sync(); err != nil {
		e.log.Errorw("failed to sync final commit log segment", "err", err)
	}

	if mem.Count() > 0 {
		ts := e.clock.Next()
		if _, _, err := sstable.Write(e.cfg.SSTDir, ts, e.cfg.IndexInterval, mem.Iter()); err != nil {
			e.log.Errorw("failed to flush final memtable on close, leaving WAL for recovery", "err", err)
			seg.Close()
			return e.log.Sync()
		}
	}

	if err := seg.Unlink(); err != nil {
		e.log.Errorw("failed to unlink final commit log segment", "err", err)
	}

	return e.log.Sync()
}
