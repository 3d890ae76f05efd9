package dedupindex

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dedupindex/blockaddr"
	"dedupindex/cell"
	"dedupindex/config"
)

func testConfig(t *testing.T, extents int) config.Config {
	cfg := config.Default()
	cfg.TablePath = filepath.Join(t.TempDir(), "table.bin")
	cfg.TableSize = int64(extents * cell.ExtentBytes)
	cfg.AuditInterval = 24 * time.Hour // don't let the audit loop race the test
	cfg.StatsPath = ""
	cfg.FlushRate = 0
	return cfg
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	cfg := testConfig(t, 1)
	cfg.TablePath = ""
	if _, err := Open(cfg); err == nil {
		t.Fatal("expected a ConfigError for an empty table path")
	}
}

func TestOpenRejectsBadSizeAsConfigError(t *testing.T) {
	cfg := testConfig(t, 1)
	cfg.TableSize = cell.ExtentBytes/2 + 1 // not a multiple of the extent size

	_, err := Open(cfg)
	if err == nil {
		t.Fatal("expected an error for a table size that isn't a multiple of the extent size")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Open err = %v (%T), want *ConfigError", err, err)
	}
}

func TestOpenCloseRoundTrip(t *testing.T) {
	idx, err := Open(testConfig(t, 1))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestInsertLookupAcrossReopen(t *testing.T) {
	cfg := testConfig(t, 1)

	idx, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h := idx.HashBlock([]byte("hello, dedup"))
	addr := uint64(blockaddr.New(1))
	idx.Engine.PushFront(h, addr)
	idx.tracker.FlushDirty()
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx2.Close()

	got := idx2.Engine.Lookup(h)
	if len(got) != 1 || got[0].Addr != addr {
		t.Fatalf("Lookup after reopen = %v, want one cell with addr %d", got, addr)
	}
}
