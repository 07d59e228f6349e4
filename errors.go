package maggma

import "errors"

// ErrNotFound is returned by Store lookups that find nothing matching the
// given criteria. Stores should return an error that satisfies
// errors.Is(err, ErrNotFound) rather than a bare "not found" string so
// callers across package boundaries can detect it uniformly.
var ErrNotFound = errors.New("maggma: not found")

// ErrNoBuilders is returned by Runner.Run when it is asked to run with an
// empty builder list.
var ErrNoBuilders = errors.New("maggma: no builders configured")
