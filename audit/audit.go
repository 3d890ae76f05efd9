// Package audit prefetches the whole table into residency, verifies every
// bucket for data defects, and writes a periodic stats report. Ported from
// bees' prefetch_loop and verify_cell_range.
package audit

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"dedupindex/blockaddr"
	"dedupindex/cell"
	"dedupindex/stats"
	"dedupindex/table"
	"dedupindex/writeback"
)

// Auditor runs the background prefetch-and-verify loop.
type Auditor struct {
	tbl       *table.Table
	tr        *writeback.Tracker
	counts    *stats.Counters
	interval  time.Duration
	statsFile string

	mlocked bool
}

// New builds an Auditor. statsFile is truncated and rewritten once per
// audit cycle; pass "" to disable the report.
func New(tbl *table.Table, tr *writeback.Tracker, counts *stats.Counters, interval time.Duration, statsFile string) *Auditor {
	return &Auditor{tbl: tbl, tr: tr, counts: counts, interval: interval, statsFile: statsFile}
}

// Run blocks until ctx is cancelled, mlocking the table once at startup
// and then auditing it on every interval tick.
func (a *Auditor) Run(ctx context.Context) {
	if !a.mlocked {
		if err := a.tbl.Space().Mlock(); err != nil {
			log.Printf("audit: mlock failed (continuing without it): %v", err)
		}
		a.mlocked = true
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		a.runOnce()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *Auditor) runOnce() {
	hist := NewHistogram()
	var compressed, hasCompressedOfs, toxicCount, unalignedEOF, duplicates, belowMin uint64

	for e := 0; e < a.tbl.NExtents(); e++ {
		a.tr.FaultIn(uint64(e * cell.BucketsPerExtent))
	}

	for b := 0; b < a.tbl.NBuckets(); b++ {
		r := a.verifyBucket(b)
		compressed += r.compressed
		hasCompressedOfs += r.hasCompressedOfs
		toxicCount += r.toxic
		unalignedEOF += r.unalignedEOF
		duplicates += r.duplicates
		belowMin += r.belowMin
		hist.Add(r.occupied)
	}

	a.counts.Add("audit_cycles", 1)

	if a.statsFile == "" {
		return
	}
	if err := a.writeReport(hist, compressed, hasCompressedOfs, toxicCount, unalignedEOF, duplicates, belowMin); err != nil {
		log.Printf("audit: writing stats file failed (continuing): %v", err)
	}
}

// bucketStats is the per-bucket tally verifyBucket returns to runOnce.
type bucketStats struct {
	occupied                                          int
	compressed, hasCompressedOfs, toxic, unalignedEOF uint64
	duplicates, belowMin                              uint64
}

// verifyBucket walks one bucket under the table's mutation mutex — the same
// lock Engine takes for every probe and edit — so the audit walk never
// races a concurrent Lookup/PushFront/PushInsertRandom/Erase over the
// mapped cell array. A cell that repeats an earlier cell in the bucket, or
// whose address is below blockaddr.MinValidAddress (flag bits included), is
// a data defect: verifyBucket heals it in place by overwriting it with the
// zero cell and marking its extent dirty, mirroring bees' verify_cell_range
// clearing bad cells when run with clear_bugs set.
func (a *Auditor) verifyBucket(b int) bucketStats {
	a.tbl.Lock()
	defer a.tbl.Unlock()

	bucket := a.tbl.Bucket(b)
	extentIdx := b / cell.BucketsPerExtent

	var r bucketStats
	seen := make(map[cell.Cell]struct{}, cell.CellsPerBucket)
	dirty := false
	for i := range bucket {
		c := bucket[i]
		if c.Empty() {
			continue
		}

		if _, dup := seen[c]; dup {
			r.duplicates++
			a.counts.Inc("audit_duplicate_cell")
			bucket[i] = cell.Cell{}
			dirty = true
			continue
		}
		seen[c] = struct{}{}

		addr := blockaddr.Address(c.Addr)
		if addr < blockaddr.MinValidAddress {
			r.belowMin++
			a.counts.Inc("audit_invalid_address")
			bucket[i] = cell.Cell{}
			dirty = true
			continue
		}

		r.occupied++
		if addr.IsToxic() {
			r.toxic++
		}
		if addr.IsCompressed() {
			r.compressed++
		}
		if addr.HasCompressedOffset() {
			r.hasCompressedOfs++
		}
		if addr.IsUnalignedEOF() {
			r.unalignedEOF++
		}
	}

	if dirty {
		a.tr.SetDirty(extentIdx)
	}
	return r
}

func (a *Auditor) writeReport(hist *Histogram, compressed, hasCompressedOfs, toxic, unalignedEOF, duplicates, belowMin uint64) error {
	f, err := os.Create(a.statsFile)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	fmt.Fprintf(w, "buckets: %d  extents: %d\n", a.tbl.NBuckets(), a.tbl.NExtents())
	fmt.Fprintf(w, "missing extents: %d\n\n", a.tr.MissingCount())
	fmt.Fprintf(w, "flag counts: compressed=%d compressed_offset=%d toxic=%d unaligned_eof=%d\n", compressed, hasCompressedOfs, toxic, unalignedEOF)
	fmt.Fprintf(w, "defects: duplicate_cells=%d below_min_address=%d\n\n", duplicates, belowMin)

	fmt.Fprintln(w, "OCCUPANCY HISTOGRAM")
	hist.Render(w)

	fmt.Fprintln(w, "\nRATES")
	for name, rate := range a.counts.Rates(a.counts.Age()) {
		fmt.Fprintf(w, "%s: %.3f/s\n", name, rate)
	}
	return nil
}
