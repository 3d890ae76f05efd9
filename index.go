// Package dedupindex is the persistent content-addressed hash index at
// the core of a block dedup engine. It wires together the address space,
// cell store, probe/mutation engine, writeback loop and audit loop into
// one open/close lifecycle.
package dedupindex

import (
	"context"
	"fmt"
	"log"
	"sync"

	"dedupindex/addrspace"
	"dedupindex/audit"
	"dedupindex/cell"
	"dedupindex/config"
	"dedupindex/hashfn"
	"dedupindex/index"
	"dedupindex/ratelimit"
	"dedupindex/stats"
	"dedupindex/table"
	"dedupindex/toxic"
	"dedupindex/writeback"
)

// Index is the top-level handle: everything a caller needs to look up,
// insert, or erase content-addressed cells, plus the background goroutines
// that keep the backing file in sync and audited.
type Index struct {
	cfg    config.Config
	space  *addrspace.Space
	tbl    *table.Table
	Engine *index.Engine
	Stats  *stats.Counters

	tracker *writeback.Tracker
	auditor *audit.Auditor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open creates or opens the backing file described by cfg and starts the
// background writeback and audit loops. Any failure here is fatal: the
// caller should log.Fatal or equivalent, never retry in place.
func Open(cfg config.Config) (*Index, error) {
	if cfg.TablePath == "" {
		return nil, &ConfigError{Reason: "table path must not be empty"}
	}
	if cfg.BlockSize <= 0 {
		return nil, &ConfigError{Reason: "block size must be positive"}
	}
	if cfg.TableSize <= 0 || cfg.TableSize%int64(cell.ExtentBytes) != 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("table size %d must be a positive multiple of extent size %d", cfg.TableSize, cell.ExtentBytes)}
	}

	space, err := addrspace.Open(cfg.TablePath, cfg.TableSize)
	if err != nil {
		return nil, &MapError{Err: err}
	}

	if cfg.BlacklistFunc != nil {
		if err := cfg.BlacklistFunc(cfg.TablePath); err != nil {
			log.Printf("dedupindex: blacklist registration for %s failed (continuing): %v", cfg.TablePath, err)
		}
	}

	tbl := table.New(space)
	counts := stats.New()
	limiter := ratelimit.New(cfg.FlushRate)
	tracker := writeback.New(tbl, limiter, counts)
	toxics := toxic.Build(hashfn.Blake3, cfg.BlockSize)
	eng := index.New(tbl, toxics, tracker, counts)
	auditor := audit.New(tbl, tracker, counts, cfg.AuditInterval, cfg.StatsPath)

	ctx, cancel := context.WithCancel(context.Background())
	idx := &Index{
		cfg:     cfg,
		space:   space,
		tbl:     tbl,
		Engine:  eng,
		Stats:   counts,
		tracker: tracker,
		auditor: auditor,
		cancel:  cancel,
	}

	idx.wg.Add(2)
	go func() { defer idx.wg.Done(); tracker.Run(ctx) }()
	go func() { defer idx.wg.Done(); auditor.Run(ctx) }()

	return idx, nil
}

// HashBlock hashes data with hashfn.Blake3, the same strong hash the
// toxic set is built with. Exposed so callers don't need to import
// dedupindex/hashfn directly just to compute a key.
func (idx *Index) HashBlock(data []byte) uint64 {
	return hashfn.Blake3(data)
}

// Close stops the background loops, flushes any remaining dirty extents,
// and unmaps the backing file.
func (idx *Index) Close() error {
	idx.cancel()
	idx.wg.Wait()
	idx.tracker.FlushDirty()
	return idx.space.Close()
}
