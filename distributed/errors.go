package distributed

import "fmt"

// BusError reports a message-bus transport failure.
// In Manager mode, callers re-queue the affected chunk and continue up to
// a retry budget, then treat it as fatal; in Worker mode, callers abort
// the current chunk and re-enter the READY loop.
type BusError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *BusError) Error() string { return fmt.Sprintf("distributed: bus %s: %v", e.Op, e.Err) }

// Unwrap implements the errors.Unwrap contract.
func (e *BusError) Unwrap() error { return e.Err }
