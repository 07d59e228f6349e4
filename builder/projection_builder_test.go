package builder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materialsproject/maggma/store"
)

func TestProjectionBuilderCopiesNamedFieldsOnly(t *testing.T) {
	ctx := context.Background()
	src := store.NewMemoryStore("src", "task_id", "last_updated")
	tgt := store.NewMemoryStore("tgt", "task_id", "last_updated")

	pb := NewProjectionBuilder("project_formula", src, tgt, "formula", "nsites")
	require.NoError(t, pb.Connect(ctx))
	defer pb.Close(ctx)

	require.NoError(t, src.Update(ctx, []store.Document{
		{"task_id": 1, "formula": "Fe2O3", "nsites": 5, "extra": "drop me", "last_updated": "2024-01-01T00:00:00Z"},
	}, nil))

	var item any
	for it, err := range pb.GetItems(ctx) {
		require.NoError(t, err)
		item = it
	}
	require.NotNil(t, item)

	out, err := pb.ProcessItem(ctx, item)
	require.NoError(t, err)
	require.NoError(t, pb.UpdateTargets(ctx, []any{out}))

	doc, ok, err := tgt.QueryOne(ctx, store.Query{Criteria: store.Eq{"task_id": 1}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Fe2O3", doc["formula"])
	assert.Equal(t, 5, doc["nsites"])
	assert.NotContains(t, doc, "extra")
}
