package report

import "fmt"

// ReporterError wraps an event-sink write failure. It is logged and
// never fatal to the build it describes.
type ReporterError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *ReporterError) Error() string {
	return fmt.Sprintf("report: %s: %v", e.Op, e.Err)
}

// Unwrap implements the errors.Unwrap contract.
func (e *ReporterError) Unwrap() error { return e.Err }
