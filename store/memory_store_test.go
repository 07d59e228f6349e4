package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUpdateAndQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("mem", "task_id", "last_updated")
	require.NoError(t, s.Connect(ctx))
	defer s.Close(ctx)

	now := time.Now().UTC()
	err := s.Update(ctx, []Document{
		{"task_id": 1, "state": "ok", "last_updated": now.Format(time.RFC3339Nano)},
		{"task_id": 2, "state": "error", "last_updated": now.Format(time.RFC3339Nano)},
	}, nil)
	require.NoError(t, err)

	n, err := s.Count(ctx, All{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var got []Document
	for d, err := range s.Query(ctx, Query{Criteria: Eq{"state": "ok"}}) {
		require.NoError(t, err)
		got = append(got, d)
	}
	require.Len(t, got, 1)
	assert.EqualValues(t, 1, got[0]["task_id"])
}

func TestMemoryStoreUpdateUpsertsOnKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("mem", "task_id", "last_updated")
	require.NoError(t, s.Connect(ctx))

	require.NoError(t, s.Update(ctx, []Document{{"task_id": 1, "state": "new"}}, nil))
	require.NoError(t, s.Update(ctx, []Document{{"task_id": 1, "state": "done"}}, nil))

	n, err := s.Count(ctx, All{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, ok, err := s.QueryOne(ctx, Query{Criteria: Eq{"task_id": 1}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "done", d["state"])
}

func TestMemoryStoreRemoveDocs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("mem", "task_id", "last_updated")
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Update(ctx, []Document{
		{"task_id": 1, "state": "ok"},
		{"task_id": 2, "state": "error"},
	}, nil))

	n, err := s.RemoveDocs(ctx, Eq{"state": "error"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Count(ctx, All{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStoreGroupBy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("mem", "task_id", "last_updated")
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Update(ctx, []Document{
		{"task_id": 1, "material": "A"},
		{"task_id": 2, "material": "A"},
		{"task_id": 3, "material": "B"},
	}, nil))

	groups, err := s.GroupBy(ctx, []string{"material"}, All{})
	require.NoError(t, err)

	counts := map[string]int{}
	for key, members := range groups {
		m := key["material"].(string)
		for range members {
			counts[m]++
		}
	}
	assert.Equal(t, 2, counts["A"])
	assert.Equal(t, 1, counts["B"])
}

func TestMemoryStoreNewerInExhaustive(t *testing.T) {
	ctx := context.Background()
	src := NewMemoryStore("src", "task_id", "last_updated")
	tgt := NewMemoryStore("tgt", "task_id", "last_updated")
	require.NoError(t, src.Connect(ctx))
	require.NoError(t, tgt.Connect(ctx))

	older := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339Nano)
	newer := time.Now().UTC().Format(time.RFC3339Nano)

	require.NoError(t, src.Update(ctx, []Document{
		{"task_id": 1, "last_updated": newer},
		{"task_id": 2, "last_updated": older},
		{"task_id": 3, "last_updated": newer},
	}, nil))
	require.NoError(t, tgt.Update(ctx, []Document{
		{"task_id": 1, "last_updated": older},
		{"task_id": 2, "last_updated": newer},
	}, nil))

	keys, err := src.NewerIn(ctx, tgt, All{}, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{1, 3}, keys)
}
