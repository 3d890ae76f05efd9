package toxic

import (
	"testing"

	"dedupindex/hashfn"
)

func TestBuildHasAllNonZeroValues(t *testing.T) {
	s := Build(hashfn.Blake3, 4096)
	if len(s) != 255 {
		t.Fatalf("toxic set has %d entries, want 255", len(s))
	}
}

func TestBuildExcludesZeroBlock(t *testing.T) {
	s := Build(hashfn.Blake3, 4096)
	zeroBlock := make([]byte, 4096)
	if s.Contains(hashfn.Blake3(zeroBlock)) {
		t.Fatal("toxic set must not contain the all-zero block's hash")
	}
}

func TestContainsKnownValue(t *testing.T) {
	block := make([]byte, 4096)
	for i := range block {
		block[i] = 7
	}
	s := Build(hashfn.Blake3, 4096)
	if !s.Contains(hashfn.Blake3(block)) {
		t.Fatal("toxic set must contain hash of a uniform non-zero block")
	}
}
