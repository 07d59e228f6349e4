package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materialsproject/maggma/store"
)

func TestReporterWritesEvents(t *testing.T) {
	ctx := context.Background()
	sink := store.NewMemoryStore("events", "build_id", "at")
	require.NoError(t, sink.Connect(ctx))

	r := NewReporter(sink, nil)
	r.Emit(ctx, BuildEvent{
		Kind:        Started,
		BuilderName: "multiply_by_two",
		BuildID:     r.BuildID(),
		MachineID:   MachineID(),
		At:          time.Now(),
		Payload:     map[string]any{"sources": []string{"src"}},
	})
	r.Close()

	n, err := sink.Count(ctx, store.All{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReporterDropsOnOverflowWithoutBlocking(t *testing.T) {
	ctx := context.Background()
	sink := store.NewMemoryStore("events", "build_id", "at")
	require.NoError(t, sink.Connect(ctx))

	var errs []error
	r := NewReporter(sink, func(err error) { errs = append(errs, err) })
	defer r.Close()

	for i := 0; i < dropThreshold*2; i++ {
		r.Emit(ctx, BuildEvent{Kind: Updated, BuilderName: "b", BuildID: r.BuildID(), At: time.Now()})
	}

	assert.GreaterOrEqual(t, r.Dropped(), 0)
}

func TestMachineIDIsStableAcrossCalls(t *testing.T) {
	assert.Equal(t, MachineID(), MachineID())
	assert.Len(t, MachineID(), 16)
}
