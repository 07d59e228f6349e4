package store

import "errors"

// ErrNotFound is returned by adapters when a QueryOne or document lookup
// finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrNotConnected is returned when an operation is attempted before
// Connect or after Close.
var ErrNotConnected = errors.New("store: not connected")

// ErrClosed is returned when Update/RemoveDocs/etc. run on a closed Store.
var ErrClosed = errors.New("store: closed")
