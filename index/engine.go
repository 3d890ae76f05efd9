// Package index implements the probe and mutation primitives: lookup,
// erase, push_front, and push_random_insert. Ported from bees'
// find_cell, erase_hash_addr, push_front_hash_addr, and
// push_random_hash_addr in bees-hash.cc.
package index

import (
	"math/rand"
	"sync"

	"dedupindex/blockaddr"
	"dedupindex/cell"
	"dedupindex/stats"
	"dedupindex/table"
	"dedupindex/toxic"
	"dedupindex/writeback"
)

// ToxicAddr is the synthetic address returned for a lookup on a toxic
// hash: the minimum valid address with the toxic flag set, never a real
// block location.
var ToxicAddr = blockaddr.Address(blockaddr.MinValidAddress).WithToxic()

// Engine is the probe and mutation engine over one table.
type Engine struct {
	tbl    *table.Table
	toxics toxic.Set
	tr     *writeback.Tracker
	counts *stats.Counters

	randMu sync.Mutex
	rand   *rand.Rand
}

// New builds an Engine. tr is the writeback tracker used for fault-in
// before every mutation, guaranteeing an extent's data is resident before
// this engine edits it.
func New(tbl *table.Table, toxics toxic.Set, tr *writeback.Tracker, counts *stats.Counters) *Engine {
	return &Engine{
		tbl:    tbl,
		toxics: toxics,
		tr:     tr,
		counts: counts,
		rand:   rand.New(rand.NewSource(1)),
	}
}

// WithRand replaces the engine's random source, for reproducible tests of
// PushInsertRandom per spec.md's explicit-seed-injection requirement.
func (e *Engine) WithRand(r *rand.Rand) *Engine {
	e.randMu.Lock()
	e.rand = r
	e.randMu.Unlock()
	return e
}

func (e *Engine) randPos() int {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Intn(cell.CellsPerBucket)
}

// Lookup returns every cell in hash h's bucket whose hash matches and
// whose address is at least blockaddr.MinValidAddress. A toxic hash short
// circuits to a single synthetic cell carrying ToxicAddr, without ever
// touching the table. Mirrors bees' find_cell.
func (e *Engine) Lookup(h uint64) []cell.Cell {
	if e.toxics.Contains(h) {
		e.counts.Inc("hash_toxic")
		return []cell.Cell{{Hash: h, Addr: uint64(ToxicAddr)}}
	}

	e.tr.FaultIn(h)
	e.counts.Inc("hash_lookup")

	e.tbl.Lock()
	defer e.tbl.Unlock()

	begin, end := e.tbl.CellRange(h)
	cells := e.tbl.Space().Cells()[begin:end]

	var out []cell.Cell
	for _, c := range cells {
		if c.Hash == h && blockaddr.Address(c.Addr) >= blockaddr.MinValidAddress {
			out = append(out, c)
		}
	}
	return out
}

// Erase removes the cell matching (h, addr) exactly, zeroing it in place.
// A miss is silent: shared tables never learn an entry is stale any other
// way. Mirrors bees' erase_hash_addr.
func (e *Engine) Erase(h, addr uint64) {
	e.tr.FaultIn(h)

	e.tbl.Lock()
	begin, end := e.tbl.CellRange(h)
	cells := e.tbl.Space().Cells()[begin:end]

	idx := indexOf(cells, cell.Cell{Hash: h, Addr: addr})
	extentIdx := -1
	if idx >= 0 {
		cells[idx] = cell.Cell{}
		extentIdx = e.tbl.ExtentIndex(h)
		e.counts.Inc("hash_erase")
	}
	e.tbl.Unlock()

	if extentIdx >= 0 {
		e.tr.SetDirty(extentIdx)
	}
}

// PushFront moves (h, addr) to the front of its bucket's list if already
// present, or inserts it at the front otherwise — possibly evicting the
// last entry in the bucket. Returns true if the entry was already present.
// Mirrors bees' push_front_hash_addr, including the tail-eviction special
// case when no match and no empty slot exist: the insertion point lands
// exactly at the end of the bucket, and the correct behaviour is to drop
// the last cell and shift everything else right by one (see DESIGN.md's
// Open Question entry).
func (e *Engine) PushFront(h, addr uint64) bool {
	e.tr.FaultIn(h)

	e.tbl.Lock()
	extentIdx := e.tbl.ExtentIndex(h)
	begin, end := e.tbl.CellRange(h)
	cells := e.tbl.Space().Cells()[begin:end]
	mv := cell.Cell{Hash: h, Addr: addr}

	ip := indexOf(cells, mv)
	found := ip >= 0
	if !found {
		ip = indexOf(cells, cell.Cell{})
		if ip < 0 {
			ip = len(cells) // "end": no match, no empty slot
		}
	}

	if ip > 0 {
		sp := ip - 1
		dp := ip
		if ip == len(cells) {
			// No empty slot at or after this point in the bucket: evict
			// the last cell instead of shifting it off the end.
			sp--
			dp--
			e.counts.Inc("hash_evict")
		}
		for dp > 0 {
			cells[dp] = cells[sp]
			dp--
			sp--
		}
	}

	dirty := false
	if cells[0] != mv {
		cells[0] = mv
		dirty = true
		e.counts.Inc("hash_front")
	}
	e.tbl.Unlock()

	if dirty {
		e.tr.SetDirty(extentIdx)
	}
	return found
}

// PushInsertRandom returns true and leaves the bucket untouched if (h,
// addr) is already present at or before a randomly drawn position;
// otherwise inserts it at a random position, evicting the bucket's last
// cell only if no empty slot exists anywhere in the bucket. Used for
// first-time inserts of not-yet-duplicated blocks, so repeated runs don't
// all pile up at the front of every bucket. Mirrors bees'
// push_random_hash_addr's five cases.
func (e *Engine) PushInsertRandom(h, addr uint64) bool {
	e.tr.FaultIn(h)
	pos := e.randPos()

	e.tbl.Lock()
	extentIdx := e.tbl.ExtentIndex(h)
	begin, end := e.tbl.CellRange(h)
	cells := e.tbl.Space().Cells()[begin:end]
	mv := cell.Cell{Hash: h, Addr: addr}

	ip := indexOf(cells, mv)
	found := ip >= 0
	dirty := false

	switch {
	case found && ip > pos:
		// Case 1: already present after pos — bump it back to pos.
		sp := ip - 1
		dp := ip
		for dp > pos {
			cells[dp] = cells[sp]
			dp--
			sp--
		}
		cells[pos] = mv
		e.counts.Inc("hash_bump")
		e.counts.Inc("hash_insert")
		dirty = true

	case found:
		// Case 2: already present at or before pos — leave it alone.
		e.counts.Inc("hash_already")

	default:
		if idx := firstEmptyFrom(cells, pos, len(cells)); idx >= 0 {
			// Case 3: empty slot at or after pos.
			cells[idx] = mv
			dirty = true
		} else if idx := firstEmptyFrom(cells, pos-1, -1); pos > 0 && idx >= 0 {
			// Case 4: empty slot before pos.
			cells[idx] = mv
			dirty = true
		} else {
			// Case 5: no empty slot anywhere — evict the last cell and
			// insert at pos.
			for i := len(cells) - 1; i > pos; i-- {
				cells[i] = cells[i-1]
			}
			cells[pos] = mv
			e.counts.Inc("hash_evict")
			dirty = true
		}
		e.counts.Inc("hash_insert")
	}
	e.tbl.Unlock()

	if dirty {
		e.tr.SetDirty(extentIdx)
	}
	return found
}

func indexOf(cells []cell.Cell, target cell.Cell) int {
	for i, c := range cells {
		if c == target {
			return i
		}
	}
	return -1
}

// firstEmptyFrom scans cells[from] toward (but not including) stop,
// stepping +1 if stop > from or -1 if stop < from, returning the index of
// the first empty cell found, or -1.
func firstEmptyFrom(cells []cell.Cell, from, stop int) int {
	if stop > from {
		for i := from; i < stop; i++ {
			if cells[i].Empty() {
				return i
			}
		}
		return -1
	}
	for i := from; i > stop; i-- {
		if cells[i].Empty() {
			return i
		}
	}
	return -1
}
