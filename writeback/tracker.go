// Package writeback owns the dirty-extent set and the background loop that
// flushes it to disk, plus the fault-in path that makes an extent's data
// resident before a mutation touches it. Ported from bees'
// set_extent_dirty / flush_dirty_extents / writeback_loop /
// fetch_missing_extent.
package writeback

import (
	"context"
	"log"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"dedupindex/cell"
	"dedupindex/extentlock"
	"dedupindex/ratelimit"
	"dedupindex/stats"
	"dedupindex/table"
)

// Tracker tracks which extents have unflushed writes and which extents
// have not yet been faulted in this session.
type Tracker struct {
	tbl     *table.Table
	limiter *ratelimit.Limiter
	counts  *stats.Counters
	locks   *extentlock.Set

	dirtyMu sync.Mutex
	dirty   map[int]struct{}
	cond    *sync.Cond

	missingMu sync.Mutex
	missing   map[int]struct{}
}

// New builds a Tracker over tbl. Every extent starts out missing: the
// first operation touching each extent pays the cost of a fault-in.
func New(tbl *table.Table, limiter *ratelimit.Limiter, counts *stats.Counters) *Tracker {
	tr := &Tracker{
		tbl:     tbl,
		limiter: limiter,
		counts:  counts,
		locks:   extentlock.NewSet(),
		dirty:   make(map[int]struct{}),
		missing: make(map[int]struct{}),
	}
	tr.cond = sync.NewCond(&tr.dirtyMu)
	for i := 0; i < tbl.NExtents(); i++ {
		tr.missing[i] = struct{}{}
	}
	return tr
}

// SetDirty marks extent index e as having unflushed writes and wakes the
// writeback loop. Mirrors bees' set_extent_dirty.
func (t *Tracker) SetDirty(e int) {
	t.dirtyMu.Lock()
	t.dirty[e] = struct{}{}
	t.dirtyMu.Unlock()
	t.cond.Signal()
}

// Run blocks, flushing dirty extents as they appear, until ctx is
// cancelled. Mirrors bees' writeback_loop.
func (t *Tracker) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		t.dirtyMu.Lock()
		t.cond.Broadcast()
		t.dirtyMu.Unlock()
		close(done)
	}()

	for {
		batch := t.takeDirty(ctx)
		if batch == nil {
			return
		}
		t.flushBatch(batch)
	}
}

// takeDirty blocks until the dirty set is non-empty or ctx is cancelled,
// then swaps it out for an empty one and returns the extents that were
// dirty. Returns nil once ctx is cancelled and nothing is left to flush.
func (t *Tracker) takeDirty(ctx context.Context) []int {
	t.dirtyMu.Lock()
	defer t.dirtyMu.Unlock()
	for len(t.dirty) == 0 {
		if ctx.Err() != nil {
			return nil
		}
		t.cond.Wait()
	}
	batch := make([]int, 0, len(t.dirty))
	for e := range t.dirty {
		batch = append(batch, e)
	}
	t.dirty = make(map[int]struct{})
	return batch
}

// FlushDirty flushes every currently dirty extent synchronously. Used for
// a final drain at shutdown.
func (t *Tracker) FlushDirty() {
	t.dirtyMu.Lock()
	batch := make([]int, 0, len(t.dirty))
	for e := range t.dirty {
		batch = append(batch, e)
	}
	t.dirty = make(map[int]struct{})
	t.dirtyMu.Unlock()
	t.flushBatch(batch)
}

// flushBatch copies each dirty extent's bytes out from under the mapping
// and Pwrites the copy, rate-limiting after each write. Copying first
// means the write syscall never happens while a mutation holds a page
// lock on the same extent.
func (t *Tracker) flushBatch(batch []int) {
	space := t.tbl.Space()
	buf := make([]byte, cell.ExtentBytes)

	for _, e := range batch {
		t.locks.Lock(e)
		ext := t.tbl.Extent(e)
		copy(buf, asBytes(ext))
		t.locks.Unlock(e)

		offset := t.tbl.ExtentOffset(e)
		n, err := unix.Pwrite(space.Fd(), buf, offset)
		if err != nil || n != len(buf) {
			log.Printf("writeback: pwrite extent %d at offset %d failed: %v (wrote %d/%d)", e, offset, err, n, len(buf))
			t.counts.Inc("writeback_errors")
			// Re-mark dirty so the next cycle retries; never propagate.
			t.SetDirty(e)
			continue
		}
		t.counts.Inc("extents_flushed")
		t.counts.Add("bytes_flushed", uint64(len(buf)))
		t.limiter.SleepFor(len(buf))
	}
}

// FaultIn makes the extent containing hash h resident, reading it from the
// backing file if this session has not touched it yet. Safe to call from
// multiple goroutines concurrently: the second caller to race on the same
// extent blocks on the per-extent lock and then finds the work already
// done, exactly like bees' fetch_missing_extent. Every successful read
// debits the rate limiter without blocking on it: prefetch shares the same
// byte budget as writeback, but never sleeps for it.
func (t *Tracker) FaultIn(h uint64) {
	e := t.tbl.ExtentIndex(h)

	t.missingMu.Lock()
	_, stillMissing := t.missing[e]
	t.missingMu.Unlock()
	if !stillMissing {
		return
	}

	t.locks.Lock(e)
	defer t.locks.Unlock(e)

	t.missingMu.Lock()
	_, stillMissing = t.missing[e]
	t.missingMu.Unlock()
	if !stillMissing {
		// Lost the race to another fault-in while waiting for the lock.
		t.counts.Inc("fault_in_redundant")
		return
	}

	space := t.tbl.Space()
	ext := t.tbl.Extent(e)
	buf := asBytes(ext)
	offset := t.tbl.ExtentOffset(e)
	if _, err := unix.Pread(space.Fd(), buf, offset); err != nil {
		log.Printf("writeback: pread extent %d at offset %d failed: %v", e, offset, err)
		t.counts.Inc("fault_in_errors")
		return
	}

	t.limiter.Borrow(len(buf))

	t.missingMu.Lock()
	delete(t.missing, e)
	t.missingMu.Unlock()
	t.counts.Inc("fault_in")
}

// MissingCount returns how many extents have not yet been faulted in this
// session. Exposed for the audit loop's report.
func (t *Tracker) MissingCount() int {
	t.missingMu.Lock()
	defer t.missingMu.Unlock()
	return len(t.missing)
}

func asBytes(ext *cell.Extent) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ext)), cell.ExtentBytes)
}
