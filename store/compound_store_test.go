package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinStoreMergesSecondaryFields(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore("primary", "task_id", "last_updated")
	secondary := NewMemoryStore("secondary", "task_id", "last_updated")
	require.NoError(t, primary.Connect(ctx))
	require.NoError(t, secondary.Connect(ctx))

	require.NoError(t, primary.Update(ctx, []Document{
		{"task_id": 1, "formula": "Fe2O3"},
		{"task_id": 2, "formula": "SiO2"},
	}, nil))
	require.NoError(t, secondary.Update(ctx, []Document{
		{"task_id": 1, "band_gap": 2.1},
	}, nil))

	j := NewJoinStore("joined", primary, "task_id", secondary)
	require.NoError(t, j.Connect(ctx))

	d, ok, err := j.QueryOne(ctx, Query{Criteria: Eq{"task_id": 1}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Fe2O3", d["formula"])
	assert.Equal(t, 2.1, d["band_gap"])

	d2, ok, err := j.QueryOne(ctx, Query{Criteria: Eq{"task_id": 2}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, d2, "band_gap")
}

func TestJoinStoreIsReadOnly(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore("primary", "task_id", "last_updated")
	require.NoError(t, primary.Connect(ctx))
	j := NewJoinStore("joined", primary, "task_id")

	err := j.Update(ctx, []Document{{"task_id": 1}}, nil)
	assert.Error(t, err)

	_, err = j.RemoveDocs(ctx, All{})
	assert.Error(t, err)
}

func TestConcatStoreUnionsMembers(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryStore("a", "task_id", "last_updated")
	b := NewMemoryStore("b", "task_id", "last_updated")
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, b.Connect(ctx))
	require.NoError(t, a.Update(ctx, []Document{{"task_id": 1}}, nil))
	require.NoError(t, b.Update(ctx, []Document{{"task_id": 2}}, nil))

	c := NewConcatStore("concat", a, b)
	n, err := c.Count(ctx, All{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var keys []any
	for d, err := range c.Query(ctx, Query{}) {
		require.NoError(t, err)
		keys = append(keys, d["task_id"])
	}
	assert.ElementsMatch(t, []any{1, 2}, keys)
}

func TestAliasStoreRenamesKeyFields(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore("inner", "mp_id", "updated_on")
	require.NoError(t, inner.Connect(ctx))
	require.NoError(t, inner.Update(ctx, []Document{{"mp_id": "mp-1", "updated_on": "2024-01-01T00:00:00Z"}}, nil))

	alias := NewAliasStore(inner, "task_id", "last_updated")
	assert.Equal(t, "task_id", alias.Key())
	assert.Equal(t, "last_updated", alias.LastUpdatedField())

	n, err := alias.Count(ctx, All{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc, ok, err := alias.QueryOne(ctx, Query{Criteria: All{}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mp-1", doc["task_id"])
	assert.Equal(t, "2024-01-01T00:00:00Z", doc["last_updated"])
	assert.NotContains(t, doc, "mp_id")
	assert.NotContains(t, doc, "updated_on")

	var queried []Document
	for d, err := range alias.Query(ctx, Query{Criteria: All{}}) {
		require.NoError(t, err)
		queried = append(queried, d)
	}
	require.Len(t, queried, 1)
	assert.Equal(t, "mp-1", queried[0]["task_id"])
	assert.Equal(t, "2024-01-01T00:00:00Z", queried[0]["last_updated"])

	vals, err := alias.Distinct(ctx, "task_id", All{})
	require.NoError(t, err)
	assert.Equal(t, []any{"mp-1"}, vals)
}
