// Package config defines the options the demo commands bind to flags, the
// same way the teacher's main.go binds flag.Bool/flag.String directly.
package config

import (
	"flag"
	"time"
)

// Config holds everything needed to open and run an Index.
type Config struct {
	// TablePath is the backing file for the hash table.
	TablePath string
	// TableSize is the backing file size in bytes; must be a multiple of
	// the extent size (dedupindex/cell.ExtentBytes).
	TableSize int64
	// FlushRate caps writeback throughput in bytes/sec. Zero disables
	// the cap.
	FlushRate float64
	// AuditInterval is how often the background audit loop runs.
	AuditInterval time.Duration
	// BlockSize is the fixed content block size the hash function and
	// toxic set operate on.
	BlockSize int
	// StatsPath is where the audit loop writes its periodic text report.
	// Empty disables the report.
	StatsPath string
	// BlacklistFunc, if set, is called once after the backing file is
	// opened so the scanner (out of scope here) knows not to scan it.
	BlacklistFunc func(path string) error
}

// Default returns a Config with reasonable defaults for local testing.
func Default() Config {
	return Config{
		TablePath:     "dedupindex.dat",
		TableSize:     128 * 1024 * 1024,
		FlushRate:     64 * 1024 * 1024,
		AuditInterval: 30 * time.Second,
		BlockSize:     4096,
		StatsPath:     "dedupindex.stats",
	}
}

// BindFlags registers c's fields on fs, using c's current values as
// defaults — the same flag.Bool/flag.String shape the teacher's main.go
// uses, generalized across more option types.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.TablePath, "table", c.TablePath, "path to the backing hash table file")
	fs.Int64Var(&c.TableSize, "size", c.TableSize, "backing file size in bytes")
	fs.Float64Var(&c.FlushRate, "flush-rate", c.FlushRate, "writeback rate cap in bytes/sec (0 disables)")
	fs.DurationVar(&c.AuditInterval, "audit-interval", c.AuditInterval, "interval between audit passes")
	fs.IntVar(&c.BlockSize, "block-size", c.BlockSize, "fixed content block size in bytes")
	fs.StringVar(&c.StatsPath, "stats", c.StatsPath, "path to write the periodic stats report (empty disables)")
}
