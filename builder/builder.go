// Package builder defines the three-phase transformation contract every
// build runs (connect / get_items / process_item / update_targets /
// optional prechunk / finalize), plus the MapBuilder and GroupBuilder
// execution templates built on top of it.
package builder

import (
	"context"
	"iter"
	"time"

	"github.com/materialsproject/maggma"
)

// Chunk is a partial-work directive produced by Prechunk: a map of
// builder-attribute overrides that, applied to a freshly rehydrated
// Builder, restricts its GetItems to a disjoint subset of the total work.
type Chunk map[string]any

// Builder is a transformation unit with three lifecycle phases run over
// one or more source and target Stores.
type Builder interface {
	// Connect opens every attached Store. Must be idempotent.
	Connect(ctx context.Context) error

	// GetItems produces a lazy, finite sequence of work items. May perform
	// I/O; must be safe to consume exactly once.
	GetItems(ctx context.Context) iter.Seq2[any, error]

	// ProcessItem transforms one item. Must not perform I/O that shares
	// resources with GetItems/UpdateTargets.
	ProcessItem(ctx context.Context, item any) (any, error)

	// UpdateTargets writes one batch of processed items. Must be
	// idempotent with respect to the key(s) of each output document.
	UpdateTargets(ctx context.Context, batch []any) error

	// Close releases every attached Store, even if Connect partially
	// failed or the run errored.
	Close(ctx context.Context) error

	// Name identifies the Builder for logging and BuildEvent payloads.
	Name() string

	// Logger returns the Builder's logger handle.
	Logger() *maggma.Logger
}

// Prechunkable is implemented by Builders that can split their own work
// into n disjoint, covering chunks for distributed execution. A Builder
// without this capability is non-distributable: the Distributed
// Coordinator falls back to running it as a single chunk.
type Prechunkable interface {
	Prechunk(ctx context.Context, n int) (iter.Seq[Chunk], error)
}

// Finalizable is implemented by Builders with post-run cleanup (index
// tune-down, summary writes) to perform once after the last UpdateTargets.
type Finalizable interface {
	Finalize(ctx context.Context) error
}

// Totaler is implemented by Builders that can cheaply report an expected
// item count up front, used as the Executor's STARTED event total hint.
type Totaler interface {
	Total(ctx context.Context) (int, bool)
}

// ApplyChunk is implemented by Builders that accept a Chunk's attribute
// overrides, typically by mutating the query/skip/limit fields a
// Prechunk-capable Builder computed.
type ApplyChunk interface {
	ApplyChunk(c Chunk) error
}

// Timeouter is implemented by Builders declaring a per-item deadline. The
// Executor races ProcessItem against this deadline and records an
// ItemTimeout if it expires. A zero Timeout means no deadline.
type Timeouter interface {
	Timeout() time.Duration
}

// Dependencies is implemented by Builders that can report the Store names
// their GetItems reads from and their UpdateTargets writes to, letting the
// Runner order a builder list so that a Builder consuming another's output
// always runs after it produces that output.
type Dependencies interface {
	Stores() (sources, targets []string)
}

// ErrorRecorder is implemented by Builders that want a failed item
// written to the target rather than silently skipped: the template
// builders' idempotent {error, state: "failed"} output shape. When a
// Builder implements ErrorRecorder, the Executor forwards RecordError's
// result to UpdateTargets instead of dropping the item; bare Builders
// (no ErrorRecorder) keep the plain drop-on-error behavior.
type ErrorRecorder interface {
	RecordError(item any, err error) any
}
