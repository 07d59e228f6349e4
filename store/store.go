// Package store defines the abstract, document-oriented data-access
// capability that every Builder source and target is built on, plus a set
// of reference adapters (in-memory, on-disk JSON-lines, sqlite, S3, and
// compound join/concat/alias wrappers).
//
// A Document is a self-describing nested map with string keys; one field
// is designated the key (unique identifier) and one the last-updated
// timestamp. Within a Store the key is unique; a document with no
// last-updated value is treated as older than any timestamped document.
package store

import (
	"context"
	"iter"
	"time"
)

// Document is a self-describing, nested, string-keyed document.
type Document map[string]any

// Clone returns a shallow copy of the document. Nested maps/slices are not
// deep-copied; callers that mutate nested structures must copy those
// themselves.
func (d Document) Clone() Document {
	c := make(Document, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// GroupKey is the tuple of field values a GroupBy groups on.
type GroupKey map[string]any

// SortField is one field of a Query's sort order.
type SortField struct {
	Field string
	Desc  bool
}

// Query describes a bounded, lazily-evaluated selection against a Store.
type Query struct {
	Criteria   Criteria
	Projection []string // always augmented with Key and LastUpdatedField by adapters
	Sort       []SortField
	Skip       int
	Limit      int // 0 means unbounded
}

// Store is the uniform document-access surface every Builder source and
// target is built on. Implementations must honor the lazy, finite,
// non-restartable semantics of Query and the upsert semantics of Update.
//
// A Store is exclusively owned by one Builder for the lifetime of a run;
// implementations need not be safe for concurrent use by unrelated
// Builders, but must be safe for the Executor's producer/consumer pair to
// use concurrently with worker goroutines that never touch the Store
// directly (see the shared-resource policy in the package-level Builder
// docs).
type Store interface {
	// Connect opens the underlying connection. Re-entrant calls are
	// idempotent.
	Connect(ctx context.Context) error

	// Close releases the underlying connection. Safe to call multiple
	// times and after a failed Connect.
	Close(ctx context.Context) error

	// Query produces a lazy, finite, non-restartable sequence of documents
	// matching the query. The sequence must be safe to consume exactly
	// once; iterating it a second time has undefined results.
	Query(ctx context.Context, q Query) iter.Seq2[Document, error]

	// QueryOne returns the first document matching the query, or
	// ok == false if none match.
	QueryOne(ctx context.Context, q Query) (doc Document, ok bool, err error)

	// Count returns the exact number of documents matching criteria.
	Count(ctx context.Context, criteria Criteria) (int, error)

	// Distinct returns the set of distinct scalar values of field among
	// documents matching criteria.
	Distinct(ctx context.Context, field string, criteria Criteria) ([]any, error)

	// GroupBy groups documents matching criteria by the tuple of values in
	// fields, yielding (group key, member sequence) pairs. Each member
	// sequence must be safe to consume exactly once.
	GroupBy(ctx context.Context, fields []string, criteria Criteria) (iter.Seq2[GroupKey, iter.Seq[Document]], error)

	// Update upserts docs keyed by keyFields (nil means the Store's own
	// Key field). Bulk and idempotent on the composite key.
	Update(ctx context.Context, docs []Document, keyFields []string) error

	// RemoveDocs deletes all documents matching criteria and returns the
	// number removed.
	RemoveDocs(ctx context.Context, criteria Criteria) (int, error)

	// EnsureIndex idempotently creates an index on field.
	EnsureIndex(ctx context.Context, field string, unique bool) error

	// LastUpdated returns the maximum value of the last-updated field
	// across all documents, or the zero Time if the Store is empty.
	LastUpdated(ctx context.Context) (time.Time, error)

	// NewerIn returns the set of key values that are newer in this Store
	// than in other, restricted to criteria. If exhaustive is false, the
	// max-timestamp shortcut is used: every key in this Store whose
	// last-updated exceeds other's overall LastUpdated. If true, a
	// per-key timestamp comparison is made instead.
	NewerIn(ctx context.Context, other Store, criteria Criteria, exhaustive bool) ([]any, error)

	// Key is the name of the field that uniquely identifies a document.
	Key() string

	// LastUpdatedField is the name of the field carrying the last-updated
	// timestamp.
	LastUpdatedField() string

	// Name identifies the Store for logging and BuildEvent payloads.
	Name() string
}

// withProjectionDefaults returns q's projection augmented with key and
// lastUpdatedField, or nil if q.Projection is already nil (no projection
// configured means "fetch everything").
func withProjectionDefaults(q Query, key, lastUpdatedField string) []string {
	if q.Projection == nil {
		return nil
	}
	has := func(f string) bool {
		for _, p := range q.Projection {
			if p == f {
				return true
			}
		}
		return false
	}
	proj := append([]string{}, q.Projection...)
	if !has(key) {
		proj = append(proj, key)
	}
	if !has(lastUpdatedField) {
		proj = append(proj, lastUpdatedField)
	}
	return proj
}

func project(doc Document, fields []string) Document {
	if fields == nil {
		return doc
	}
	out := make(Document, len(fields))
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}
