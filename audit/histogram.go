package audit

import (
	"fmt"
	"io"

	"dedupindex/cell"
)

// histogramColumns matches bees' 64-column occupancy histogram.
const histogramColumns = 64

// Histogram counts how many buckets have a given occupancy (cells in
// use), bucketed into histogramColumns columns spanning
// [0, cell.CellsPerBucket].
type Histogram struct {
	counts [histogramColumns]uint64
}

// NewHistogram returns an empty histogram.
func NewHistogram() *Histogram {
	return &Histogram{}
}

// Add records one bucket's occupancy count.
func (h *Histogram) Add(occupied int) {
	col := occupied * histogramColumns / (cell.CellsPerBucket + 1)
	if col >= histogramColumns {
		col = histogramColumns - 1
	}
	h.counts[col]++
}

// Render writes an ASCII table of the histogram, built the same way
// prefetch_loop builds it: one row per doubling threshold starting at 1,
// each row marking the columns whose count is at or above that row's
// threshold, stopping one threshold past the highest any column reaches.
// That one extra threshold is never met by any column, so it renders as a
// blank row — printed first, since rows print from highest threshold down
// to 1 — and only that leading row carries the "pages" label, matching
// prefetch_loop's first_line handling.
func (h *Histogram) Render(w io.Writer) {
	type row struct {
		line      [histogramColumns]byte
		threshold uint64
	}

	var rows []row
	threshold := uint64(1)
	for {
		var r row
		for i := range r.line {
			r.line[i] = ' '
		}
		exceeded := false
		for x, c := range h.counts {
			if c >= threshold {
				r.line[x] = '#'
				exceeded = true
			}
		}
		r.threshold = threshold
		rows = append(rows, r)
		threshold *= 2
		if !exceeded {
			break
		}
	}

	for i := len(rows) - 1; i >= 0; i-- {
		fmt.Fprintf(w, "%s %d", rows[i].line[:], rows[i].threshold)
		if i == len(rows)-1 {
			fmt.Fprint(w, " pages")
		}
		fmt.Fprintln(w)
	}
}
