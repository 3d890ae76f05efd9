// Package table turns a hash value into the slice bounds the probe engine
// and writeback loop operate on. No I/O; apart from the table-wide mutation
// mutex it holds for callers, just arithmetic.
package table

import (
	"fmt"
	"sync"

	"dedupindex/addrspace"
	"dedupindex/cell"
	"dedupindex/errs"
)

// Table is a fixed-capacity view over an address space, sized in buckets
// and extents. mu is the table-wide mutation mutex: every probe, edit, and
// audit walk over the cell array takes it, so no two of those run at once.
// The writeback copy-out and fault-in read-in do not take it.
type Table struct {
	space    *addrspace.Space
	nBuckets int
	nExtents int

	mu sync.Mutex
}

// New builds a Table over an already-open address space.
func New(space *addrspace.Space) *Table {
	size := int(space.Size())
	return &Table{
		space:    space,
		nBuckets: size / cell.BucketBytes,
		nExtents: size / cell.ExtentBytes,
	}
}

// Space returns the underlying address space.
func (t *Table) Space() *addrspace.Space { return t.space }

// Lock acquires the table-wide mutation mutex. Every reader or writer of
// the mapped cell array — the probe/mutation engine and the audit walk —
// must hold it for the duration of the access.
func (t *Table) Lock() { t.mu.Lock() }

// Unlock releases the table-wide mutation mutex.
func (t *Table) Unlock() { t.mu.Unlock() }

// NBuckets is the total number of buckets in the table.
func (t *Table) NBuckets() int { return t.nBuckets }

// NExtents is the total number of extents in the table.
func (t *Table) NExtents() int { return t.nExtents }

// BucketIndex maps a hash to its bucket by simple modulo, matching spec.md
// §3: no open addressing, every cell for a given hash lives in exactly one
// bucket. Panics with *errs.InvariantError if the table has no buckets — a
// zero-sized table is a construction bug, not a condition a caller can hit
// through normal use.
func (t *Table) BucketIndex(h uint64) int {
	if t.nBuckets <= 0 {
		panic(&errs.InvariantError{Reason: fmt.Sprintf("BucketIndex: table has %d buckets", t.nBuckets)})
	}
	return int(h % uint64(t.nBuckets))
}

// ExtentIndex maps a hash to the extent containing its bucket.
func (t *Table) ExtentIndex(h uint64) int {
	e := t.BucketIndex(h) / cell.BucketsPerExtent
	if e < 0 || e >= t.nExtents {
		panic(&errs.InvariantError{Reason: fmt.Sprintf("ExtentIndex: computed extent %d out of range [0, %d)", e, t.nExtents)})
	}
	return e
}

// CellRange returns the half-open [begin, end) index range into
// t.Space().Cells() for the bucket that hash h falls into. Mirrors bees'
// get_cell_range.
func (t *Table) CellRange(h uint64) (begin, end int) {
	b := t.BucketIndex(h)
	begin = b * cell.CellsPerBucket
	end = begin + cell.CellsPerBucket
	return
}

// ExtentCellRange returns the half-open [begin, end) index range into
// t.Space().Cells() for the extent that hash h falls into. Mirrors bees'
// get_extent_range.
func (t *Table) ExtentCellRange(h uint64) (extentIndex, begin, end int) {
	extentIndex = t.ExtentIndex(h)
	begin = extentIndex * cell.CellsPerExtent
	end = begin + cell.CellsPerExtent
	return
}

// Bucket returns the bucket at the given bucket index. Panics with
// *errs.InvariantError if index falls outside the table: every caller
// derives index from BucketIndex/ExtentIndex, so an out-of-range value
// here is a logic bug upstream, not a condition to recover from.
func (t *Table) Bucket(index int) *cell.Bucket {
	if index < 0 || index >= t.nBuckets {
		panic(&errs.InvariantError{Reason: fmt.Sprintf("Bucket: index %d out of range [0, %d)", index, t.nBuckets)})
	}
	return &t.space.Buckets()[index]
}

// Extent returns the extent at the given extent index. Panics with
// *errs.InvariantError if index falls outside the table.
func (t *Table) Extent(index int) *cell.Extent {
	if index < 0 || index >= t.nExtents {
		panic(&errs.InvariantError{Reason: fmt.Sprintf("Extent: index %d out of range [0, %d)", index, t.nExtents)})
	}
	return &t.space.Extents()[index]
}

// BucketRangeForExtent returns the [first, last] inclusive bucket indices
// contained in extent index e. Panics with *errs.InvariantError if e falls
// outside the table.
func (t *Table) BucketRangeForExtent(e int) (first, last int) {
	if e < 0 || e >= t.nExtents {
		panic(&errs.InvariantError{Reason: fmt.Sprintf("BucketRangeForExtent: extent %d out of range [0, %d)", e, t.nExtents)})
	}
	first = e * cell.BucketsPerExtent
	last = first + cell.BucketsPerExtent - 1
	return
}

// ExtentOffset returns the byte offset of extent e within the backing
// file, for Pread/Pwrite. Panics with *errs.InvariantError if e falls
// outside the table.
func (t *Table) ExtentOffset(e int) int64 {
	if e < 0 || e >= t.nExtents {
		panic(&errs.InvariantError{Reason: fmt.Sprintf("ExtentOffset: extent %d out of range [0, %d)", e, t.nExtents)})
	}
	return int64(e) * int64(cell.ExtentBytes)
}
