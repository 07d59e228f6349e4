package builder

import (
	"context"

	"github.com/materialsproject/maggma/store"
)

// NewProjectionBuilder returns a MapBuilder that copies the named fields
// verbatim from source to target, supplementing the template builders with
// the degenerate identity transform used to fan select fields out to a
// denormalized target Store without writing a bespoke UnaryFunction.
func NewProjectionBuilder(name string, source, target store.Store, fields ...string) *MapBuilder {
	mb := NewMapBuilder(name, source, target, func(_ context.Context, item store.Document) (store.Document, error) {
		out := store.Document{}
		for _, f := range fields {
			if v, ok := item[f]; ok {
				out[f] = v
			}
		}
		return out, nil
	})
	mb.Projection = fields
	return mb
}
