package dedupindex

import (
	"fmt"

	"dedupindex/errs"
)

// ConfigError reports a problem with the caller-supplied configuration —
// a bad size, a missing path — discovered at construction time. Always
// fatal to construction; never returned once an Index is open.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dedupindex: config error: %s", e.Reason)
}

// MapError wraps any failure of addrspace.Open at construction time:
// opening or creating the backing file, a size mismatch with an existing
// file, or the mmap itself. An unreadable backing file is reported as
// MapError, not ConfigError. Always fatal to construction.
type MapError struct {
	Err error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("dedupindex: mmap error: %v", e.Err)
}

func (e *MapError) Unwrap() error { return e.Err }

// InvariantError marks a logic bug: an internal computation produced a
// value the data model guarantees should never occur (e.g. a bucket index
// outside the table). Callers should treat this as a panic-worthy defect,
// not a runtime condition to recover from. Defined in dedupindex/errs so
// table.go can panic with it without importing the root package.
type InvariantError = errs.InvariantError
