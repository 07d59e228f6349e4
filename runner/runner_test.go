package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materialsproject/maggma"
	"github.com/materialsproject/maggma/builder"
	"github.com/materialsproject/maggma/store"
)

func doubler(name string, src, tgt *store.MemoryStore) *builder.MapBuilder {
	return builder.NewMapBuilder(name, src, tgt, func(_ context.Context, item store.Document) (store.Document, error) {
		n, _ := item["n"].(int)
		return store.Document{"n2": n * 2}, nil
	})
}

func seed(t *testing.T, s *store.MemoryStore, n int) {
	t.Helper()
	docs := make([]store.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, store.Document{"task_id": i, "n": i, "last_updated": "2024-01-01T00:00:00Z"})
	}
	require.NoError(t, s.Update(context.Background(), docs, nil))
}

func TestRunExecutesAllBuilders(t *testing.T) {
	a := store.NewMemoryStore("a", "task_id", "last_updated")
	b := store.NewMemoryStore("b", "task_id", "last_updated")
	c := store.NewMemoryStore("c", "task_id", "last_updated")
	seed(t, a, 5)

	r := New(WithBuilders(doubler("a_to_b", a, b), doubler("b_to_c", b, c)))
	require.NoError(t, r.Run(context.Background()))

	n, err := c.Count(context.Background(), store.All{})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestRunOrdersDependentBuildersBeforeConsumers(t *testing.T) {
	a := store.NewMemoryStore("a", "task_id", "last_updated")
	b := store.NewMemoryStore("b", "task_id", "last_updated")
	c := store.NewMemoryStore("c", "task_id", "last_updated")
	seed(t, a, 3)

	// Registered in "consumer first" order; Run must still execute a_to_b
	// before b_to_c since b_to_c's source is a_to_b's target.
	r := New(WithBuilders(doubler("b_to_c", b, c), doubler("a_to_b", a, b)))
	require.NoError(t, r.Run(context.Background()))

	n, err := c.Count(context.Background(), store.All{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// brokenConnectStore fails Connect unconditionally, simulating a Store a
// Builder depends on being unreachable.
type brokenConnectStore struct {
	*store.MemoryStore
}

func (brokenConnectStore) Connect(context.Context) error {
	return assert.AnError
}

func TestRunStopsAtFirstFatalBuilderError(t *testing.T) {
	a := brokenConnectStore{store.NewMemoryStore("a", "task_id", "last_updated")}
	b := store.NewMemoryStore("b", "task_id", "last_updated")
	c := store.NewMemoryStore("c", "task_id", "last_updated")

	failing := doubler("a_to_b_fails", a.MemoryStore, b)
	failing.Source = a
	passthrough := doubler("b_to_c", b, c)

	r := New(WithBuilders(failing, passthrough))
	err := r.Run(context.Background())
	require.Error(t, err)

	n, err2 := c.Count(context.Background(), store.All{})
	require.NoError(t, err2)
	assert.Equal(t, 0, n, "b_to_c must never run once a_to_b_fails returns a fatal error")
}

func TestRunWithNoBuildersReturnsErrNoBuilders(t *testing.T) {
	r := New()
	err := r.Run(context.Background())
	assert.ErrorIs(t, err, maggma.ErrNoBuilders)
}

func TestWithReporterInstallsSinkAndClosesCleanly(t *testing.T) {
	a := store.NewMemoryStore("a", "task_id", "last_updated")
	b := store.NewMemoryStore("b", "task_id", "last_updated")
	events := store.NewMemoryStore("events", "event_id", "last_updated")
	seed(t, a, 4)

	r := New(WithBuilders(doubler("a_to_b", a, b)), WithReporter(events))
	require.NoError(t, r.Run(context.Background()))
	r.Close()

	n, err := events.Count(context.Background(), store.All{})
	require.NoError(t, err)
	assert.Greater(t, n, 0, "expected at least one BuildEvent persisted")
}
