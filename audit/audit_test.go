package audit

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dedupindex/addrspace"
	"dedupindex/cell"
	"dedupindex/ratelimit"
	"dedupindex/stats"
	"dedupindex/table"
	"dedupindex/writeback"
)

func newTestAuditor(t *testing.T, extents int, statsFile string) (*Auditor, *table.Table) {
	dir := t.TempDir()
	sp, err := addrspace.Open(filepath.Join(dir, "table.bin"), int64(extents*cell.ExtentBytes))
	if err != nil {
		t.Fatalf("addrspace.Open: %v", err)
	}
	t.Cleanup(func() { sp.Close() })
	tbl := table.New(sp)
	counts := stats.New()
	tr := writeback.New(tbl, ratelimit.New(0), counts)
	a := New(tbl, tr, counts, 10*time.Millisecond, statsFile)
	return a, tbl
}

func TestRunOnceFaultsInEveryExtent(t *testing.T) {
	a, tbl := newTestAuditor(t, 2, "")
	a.runOnce()
	// Auditing touches every extent, so nothing should remain missing.
	if got := a.tr.MissingCount(); got != 0 {
		t.Fatalf("MissingCount() after runOnce = %d, want 0; NExtents=%d", got, tbl.NExtents())
	}
}

func TestRunOnceDetectsDuplicateCells(t *testing.T) {
	a, tbl := newTestAuditor(t, 1, "")
	bucket := tbl.Bucket(0)
	bucket[0] = cell.Cell{Hash: 1, Addr: 8192}
	bucket[1] = cell.Cell{Hash: 1, Addr: 8192}

	a.runOnce()
	if got := a.counts.Get("audit_duplicate_cell"); got != 1 {
		t.Fatalf("audit_duplicate_cell = %d, want 1", got)
	}
}

func TestRunOnceDetectsInvalidAddress(t *testing.T) {
	a, tbl := newTestAuditor(t, 1, "")
	bucket := tbl.Bucket(0)
	bucket[0] = cell.Cell{Hash: 1, Addr: 1} // below MinValidAddress (only the toxic flag bit set)

	a.runOnce()
	if got := a.counts.Get("audit_invalid_address"); got != 1 {
		t.Fatalf("audit_invalid_address = %d, want 1", got)
	}
}

func TestRunOnceHealsDuplicateCells(t *testing.T) {
	a, tbl := newTestAuditor(t, 1, "")
	bucket := tbl.Bucket(0)
	bucket[0] = cell.Cell{Hash: 1, Addr: 8192}
	bucket[1] = cell.Cell{Hash: 1, Addr: 8192}

	a.runOnce()

	// The first occurrence of a repeated cell survives; the second is the
	// defect and gets zeroed.
	if bucket[0] == (cell.Cell{}) {
		t.Fatal("runOnce cleared the first occurrence, not just the duplicate")
	}
	if bucket[1] != (cell.Cell{}) {
		t.Fatalf("runOnce did not clear the duplicate cell: %v", bucket[1])
	}
}

func TestRunOnceHealsInvalidAddress(t *testing.T) {
	a, tbl := newTestAuditor(t, 1, "")
	bucket := tbl.Bucket(0)
	bucket[0] = cell.Cell{Hash: 1, Addr: 1} // below MinValidAddress (only the toxic flag bit set)

	a.runOnce()

	if bucket[0] != (cell.Cell{}) {
		t.Fatalf("runOnce did not clear the invalid-address cell: %v", bucket[0])
	}
}

func TestWriteReportProducesOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.txt")
	a, _ := newTestAuditor(t, 1, path)
	a.runOnce()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading stats file: %v", err)
	}
	if !bytes.Contains(data, []byte("OCCUPANCY HISTOGRAM")) {
		t.Fatalf("stats file missing histogram section:\n%s", data)
	}
}

func TestRunRespectsCancellation(t *testing.T) {
	a, _ := newTestAuditor(t, 1, "")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
