package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materialsproject/maggma/builder"
	"github.com/materialsproject/maggma/report"
	"github.com/materialsproject/maggma/store"
)

type sinkFunc func(ctx context.Context, ev report.BuildEvent)

func (f sinkFunc) Emit(ctx context.Context, ev report.BuildEvent) { f(ctx, ev) }

func newDoublerBuilder(name string) (*builder.MapBuilder, *store.MemoryStore, *store.MemoryStore) {
	src := store.NewMemoryStore("src", "task_id", "last_updated")
	tgt := store.NewMemoryStore("tgt", "task_id", "last_updated")
	mb := builder.NewMapBuilder(name, src, tgt, func(_ context.Context, item store.Document) (store.Document, error) {
		n, _ := item["n"].(int)
		return store.Document{"n2": n * 2}, nil
	})
	return mb, src, tgt
}

func seedDocs(t *testing.T, src *store.MemoryStore, n int) {
	t.Helper()
	ctx := context.Background()
	docs := make([]store.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, store.Document{"task_id": i, "n": i, "last_updated": "2024-01-01T00:00:00Z"})
	}
	require.NoError(t, src.Update(ctx, docs, nil))
}

func TestExecutorProcessesEveryItemExactlyOnce(t *testing.T) {
	ctx := context.Background()
	mb, src, tgt := newDoublerBuilder("double")
	seedDocs(t, src, 20)

	ex := NewExecutor(mb, Options{NumWorkers: 4, ChunkSize: 5})
	result, err := ex.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, result.Items)
	assert.Equal(t, 0, result.Errors)

	n, err := tgt.Count(ctx, store.All{})
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestExecutorRunIsIdempotentWithSingleWorker(t *testing.T) {
	ctx := context.Background()
	mb, src, tgt := newDoublerBuilder("double")
	seedDocs(t, src, 10)

	ex1 := NewExecutor(mb, Options{NumWorkers: 1})
	_, err := ex1.Run(ctx)
	require.NoError(t, err)

	first := snapshotTotals(t, tgt)

	mb2, _, tgt2 := newDoublerBuilder("double")
	mb2.Source = src
	mb2.Target = tgt2
	ex2 := NewExecutor(mb2, Options{NumWorkers: 1})
	_, err = ex2.Run(ctx)
	require.NoError(t, err)

	second := snapshotTotals(t, tgt2)
	assert.Equal(t, first, second)
}

func snapshotTotals(t *testing.T, s *store.MemoryStore) map[any]any {
	t.Helper()
	ctx := context.Background()
	out := map[any]any{}
	for d, err := range s.Query(ctx, store.Query{}) {
		require.NoError(t, err)
		out[d["task_id"]] = d["n2"]
	}
	return out
}

func TestExecutorIsolatesPerItemErrors(t *testing.T) {
	ctx := context.Background()
	src := store.NewMemoryStore("src", "name", "last_updated")
	tgt := store.NewMemoryStore("tgt", "name", "last_updated")
	mb := builder.NewMapBuilder("maybe_fail", src, tgt, func(_ context.Context, item store.Document) (store.Document, error) {
		name, _ := item["name"].(string)
		if name == "b" {
			return nil, errors.New("boom")
		}
		v, _ := item["v"].(int)
		return store.Document{"v": v * 2}, nil
	})
	require.NoError(t, src.Update(ctx, []store.Document{
		{"name": "a", "v": 1, "last_updated": "2024-01-01T00:00:00Z"},
		{"name": "b", "v": 2, "last_updated": "2024-01-01T00:00:00Z"},
		{"name": "c", "v": 3, "last_updated": "2024-01-01T00:00:00Z"},
	}, nil))

	ex := NewExecutor(mb, Options{NumWorkers: 2})
	result, err := ex.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)

	bDoc, ok, err := tgt.QueryOne(ctx, store.Query{Criteria: store.Eq{"name": "b"}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "failed", bDoc["state"])

	aDoc, ok, err := tgt.QueryOne(ctx, store.Query{Criteria: store.Eq{"name": "a"}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, aDoc["v"])
}

func TestExecutorEmitsStartedUpdateEndedInOrder(t *testing.T) {
	ctx := context.Background()
	mb, src, _ := newDoublerBuilder("double")
	seedDocs(t, src, 3)

	var kinds []string
	sink := sinkFunc(func(_ context.Context, ev report.BuildEvent) {
		kinds = append(kinds, string(ev.Kind))
	})

	ex := NewExecutor(mb, Options{NumWorkers: 1, ChunkSize: 1, Sink: sink})
	_, err := ex.Run(ctx)
	require.NoError(t, err)

	require.NotEmpty(t, kinds)
	assert.Equal(t, "STARTED", kinds[0])
	assert.Equal(t, "ENDED", kinds[len(kinds)-1])
}

func TestExecutorStartedPayloadCarriesSourcesAndTargets(t *testing.T) {
	ctx := context.Background()
	mb, src, _ := newDoublerBuilder("double")
	seedDocs(t, src, 1)

	var started report.BuildEvent
	sink := sinkFunc(func(_ context.Context, ev report.BuildEvent) {
		if ev.Kind == report.Started {
			started = ev
		}
	})

	ex := NewExecutor(mb, Options{NumWorkers: 1, Sink: sink})
	_, err := ex.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []any{"src"}, started.Payload["sources"])
	assert.Equal(t, []any{"tgt"}, started.Payload["targets"])
}

func TestExecutorRejectsSecondRun(t *testing.T) {
	ctx := context.Background()
	mb, src, _ := newDoublerBuilder("double")
	seedDocs(t, src, 1)

	ex := NewExecutor(mb, Options{NumWorkers: 1})
	_, err := ex.Run(ctx)
	require.NoError(t, err)

	_, err = ex.Run(ctx)
	assert.ErrorIs(t, err, ErrExecutorClosed)
}

func TestExecutorHonorsItemTimeout(t *testing.T) {
	ctx := context.Background()
	src := store.NewMemoryStore("src", "task_id", "last_updated")
	tgt := store.NewMemoryStore("tgt", "task_id", "last_updated")
	mb := builder.NewMapBuilder("slow", src, tgt, func(ctx context.Context, item store.Document) (store.Document, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return store.Document{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	mb.ItemTimeout = 10 * time.Millisecond
	require.NoError(t, src.Update(ctx, []store.Document{{"task_id": 1, "last_updated": "2024-01-01T00:00:00Z"}}, nil))

	ex := NewExecutor(mb, Options{NumWorkers: 1})
	result, err := ex.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
}
