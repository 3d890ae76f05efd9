// Package cell defines the on-disk layout of the hash table: cells grouped
// into buckets, buckets grouped into extents. Everything here is pure data
// layout, no I/O and no locking.
package cell

import "unsafe"

// Cell is one (hash, address) pair. Sixteen bytes, matching the packed
// uint64 pair bees stores per slot.
type Cell struct {
	Hash uint64
	Addr uint64
}

// CellBytes is the on-disk size of a Cell.
const CellBytes = int(unsafe.Sizeof(Cell{}))

// BucketBytes is the on-disk size of one bucket. 4 KiB matches a single
// filesystem block, so a bucket read/write never straddles more than two
// underlying device blocks.
const BucketBytes = 4096

// CellsPerBucket is how many cells fit in one bucket, derived from
// BucketBytes the same way bees derives C from sizeof(bucket).
const CellsPerBucket = BucketBytes / CellBytes

// BucketsPerExtent is how many buckets make up one writeback unit. 32
// buckets of 4 KiB each gives a 128 KiB extent, matching bees'
// BLOCK_SIZE_HASHTAB_EXTENT (resolved in DESIGN.md's Open Question entry).
const BucketsPerExtent = 32

// ExtentBytes is the on-disk size of one extent.
const ExtentBytes = BucketsPerExtent * BucketBytes

// CellsPerExtent is how many cells make up one extent.
const CellsPerExtent = BucketsPerExtent * CellsPerBucket

// Bucket is a fixed-size run of cells sharing one hash-mod bucket index.
type Bucket [CellsPerBucket]Cell

// Extent is a fixed-size run of buckets; it is the unit writeback flushes
// and prefetch faults in as a whole.
type Extent [BucketsPerExtent]Bucket

// Empty reports whether c has never been written: both fields zero.
func (c Cell) Empty() bool {
	return c.Hash == 0 && c.Addr == 0
}

// Less orders cells by (Hash, Addr), the canonical ordering spec.md's data
// model invariants are stated against.
func (c Cell) Less(other Cell) bool {
	if c.Hash != other.Hash {
		return c.Hash < other.Hash
	}
	return c.Addr < other.Addr
}
