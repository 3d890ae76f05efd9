// Package hashfn supplies the strong hash function the index keys cells by.
// The index only ever consumes a Func value; it does not care which
// algorithm backs it.
package hashfn

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

// Func hashes a block of content down to the 64-bit key the table uses.
type Func func(data []byte) uint64

// Blake3 is the default strong hash, truncating a blake3-512 digest to its
// first eight bytes. blake3.Sum512 is the same call the hashing package
// used to deduplicate whole file contents; this module reuses it for
// fixed-size block content instead.
func Blake3(data []byte) uint64 {
	sum := blake3.Sum512(data)
	return binary.BigEndian.Uint64(sum[:8])
}
