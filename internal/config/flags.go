package config

import "github.com/spf13/pflag"

// BindFlags registers pflag flags for every Config field onto fs, seeded
// from cfg's current values (normally Default()). Call fs.Parse, then read
// cfg back out — the flag package writes through the pointers it was
// given.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.SSTDir, "sst-dir", cfg.SSTDir, "directory for SSTable files")
	fs.StringVar(&cfg.CommitLogDir, "commitlog-dir", cfg.CommitLogDir, "directory for WAL segments")
	fs.Int64Var(&cfg.MemtableThreshold, "memtable-threshold", cfg.MemtableThreshold, "byte size that triggers a flush")
	fs.IntVar(&cfg.IndexInterval, "index-interval", cfg.IndexInterval, "target SSTable chunk size in bytes")
	fs.StringVar(&cfg.IndexFileSuffix, "index-file-suffix", cfg.IndexFileSuffix, "index file suffix; not applied: index files are always named <ts>.sst.idx")
	fs.BoolVar(&cfg.EnableCompaction, "enable-compaction", cfg.EnableCompaction, "start the background compactor")
	fs.IntVar(&cfg.FlushWorkers, "flush-workers", cfg.FlushWorkers, "flush worker pool size")
}
