// Package blockaddr models the flag bits carried inside a cell's address
// field. The index itself never resolves an address to file data; it only
// needs to read and set these bits.
package blockaddr

// Address is a physical block address with flag bits packed into the low
// end, mirroring bees' BeesAddress encoding.
type Address uint64

const (
	flagToxic          Address = 1 << 0
	flagCompressed     Address = 1 << 1
	flagCompressedOfs  Address = 1 << 2
	flagUnalignedEOF   Address = 1 << 3
	addrShift                  = 4
)

// MinValidAddress is the smallest address a real block may have: offset 0
// shifted into address space is reserved as the empty-cell sentinel, so the
// smallest address naming an actual block is offset 1 shifted left by
// addrShift. Anything below this value found in a cell during an audit pass
// is a data defect.
const MinValidAddress Address = Address(1) << addrShift

// New packs a raw block offset with no flags set. offset must be nonzero
// for the result to be a valid address; offset 0 collides with the
// empty-cell sentinel.
func New(offset uint64) Address {
	return Address(offset) << addrShift
}

// Offset returns the raw block offset with flag bits stripped.
func (a Address) Offset() uint64 {
	return uint64(a >> addrShift)
}

// IsToxic reports whether this address is the synthetic toxic-hash marker
// rather than a real block location.
func (a Address) IsToxic() bool {
	return a&flagToxic != 0
}

// WithToxic returns a with the toxic flag set.
func (a Address) WithToxic() Address {
	return a | flagToxic
}

// IsCompressed reports whether the block this address names is stored
// compressed on disk.
func (a Address) IsCompressed() bool {
	return a&flagCompressed != 0
}

// HasCompressedOffset reports whether the address carries an offset into a
// compressed extent rather than a plain block number.
func (a Address) HasCompressedOffset() bool {
	return a&flagCompressedOfs != 0
}

// IsUnalignedEOF reports whether the block this address names is a final,
// less-than-full-length block at end of file.
func (a Address) IsUnalignedEOF() bool {
	return a&flagUnalignedEOF != 0
}

// Valid reports whether a is either a real block address (at or above
// MinValidAddress) or carries the toxic flag, whatever its offset. Zero is
// never valid.
func (a Address) Valid() bool {
	return a.IsToxic() || a >= MinValidAddress
}
