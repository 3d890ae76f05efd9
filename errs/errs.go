// Package errs holds the error types that need to be constructible from
// both the root package and its dependencies, without creating an import
// cycle back through the root package.
package errs

import "fmt"

// InvariantError marks a logic bug: an internal computation produced a
// value the data model guarantees should never occur (e.g. a bucket index
// outside the table). Callers should treat this as a panic-worthy defect,
// not a runtime condition to recover from.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("dedupindex: invariant violated: %s", e.Reason)
}
