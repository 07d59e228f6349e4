package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "docs.jsonl")

	s := NewFileStore("file", path, "task_id", "last_updated")
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Update(ctx, []Document{
		{"task_id": 1, "state": "ok"},
		{"task_id": 2, "state": "error"},
	}, nil))
	require.NoError(t, s.Close(ctx))

	reopened := NewFileStore("file", path, "task_id", "last_updated")
	require.NoError(t, reopened.Connect(ctx))

	n, err := reopened.Count(ctx, All{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	d, ok, err := reopened.QueryOne(ctx, Query{Criteria: Eq{"task_id": 2}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "error", d["state"])
}

func TestFileStoreConnectMissingFileIsNotAnError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.jsonl")

	s := NewFileStore("file", path, "task_id", "last_updated")
	require.NoError(t, s.Connect(ctx))

	n, err := s.Count(ctx, All{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFileStoreRemoveDocsPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "docs.jsonl")

	s := NewFileStore("file", path, "task_id", "last_updated")
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Update(ctx, []Document{
		{"task_id": 1, "state": "ok"},
		{"task_id": 2, "state": "error"},
	}, nil))

	n, err := s.RemoveDocs(ctx, Eq{"state": "error"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reopened := NewFileStore("file", path, "task_id", "last_updated")
	require.NoError(t, reopened.Connect(ctx))
	n, err = reopened.Count(ctx, All{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
