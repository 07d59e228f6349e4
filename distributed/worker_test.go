package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materialsproject/maggma/builder"
	"github.com/materialsproject/maggma/store"
)

// TestWorkerExitsOnExitMessage drives the Worker side of the protocol
// directly against a hand-held Conn, verifying it sends exactly one READY
// and returns cleanly on EXIT without ever dialing a real Manager.
func TestWorkerExitsOnExitMessage(t *testing.T) {
	bus := NewInProcBus()
	ln, err := bus.Bind(context.Background(), "addr")
	require.NoError(t, err)

	w := NewWorker(bus, func(string) (builder.Builder, error) {
		t.Fatal("factory should not be called when the Manager sends EXIT immediately")
		return nil, nil
	}, WorkerOptions{ID: "w1"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- w.Run(ctx, "addr") }()

	conn, err := ln.Accept(ctx)
	require.NoError(t, err)
	defer conn.Close()

	ready, err := conn.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, Ready, ready.Kind)
	assert.Equal(t, "w1", ready.WorkerID)

	require.NoError(t, conn.Send(ctx, Message{Kind: Exit}))
	assert.NoError(t, <-runErrCh)
}

// TestWorkerRunsChunkAndReportsDone drives the Worker through one CHUNK
// dispatch with no override and asserts it runs a real local Executor over
// the whole source, heartbeats, and reports DONE.
func TestWorkerRunsChunkAndReportsDone(t *testing.T) {
	src := store.NewMemoryStore("src", "task_id", "last_updated")
	require.NoError(t, src.Update(context.Background(), []store.Document{
		{"task_id": 0, "n": 1, "last_updated": "2024-01-01T00:00:00Z"},
		{"task_id": 1, "n": 2, "last_updated": "2024-01-01T00:00:00Z"},
	}, nil))
	tgt := store.NewMemoryStore("tgt", "task_id", "last_updated")

	bus := NewInProcBus()
	ln, err := bus.Bind(context.Background(), "addr")
	require.NoError(t, err)

	w := NewWorker(bus, func(name string) (builder.Builder, error) {
		return builder.NewMapBuilder(name, src, tgt, func(_ context.Context, item store.Document) (store.Document, error) {
			n, _ := item["n"].(int)
			return store.Document{"n2": n * 2}, nil
		}), nil
	}, WorkerOptions{ID: "w1", NumWorkers: 1, HeartbeatInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- w.Run(ctx, "addr") }()

	conn, err := ln.Accept(ctx)
	require.NoError(t, err)
	defer conn.Close()

	ready, err := conn.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, Ready, ready.Kind)

	require.NoError(t, conn.Send(ctx, Message{
		Kind:        ChunkMsg,
		ChunkIndex:  0,
		NumChunks:   1,
		BuilderName: "doubler",
	}))

	var sawHeartbeat bool
	var final Message
	for {
		msg, err := conn.Recv(ctx)
		require.NoError(t, err)
		if msg.Kind == Heartbeat {
			sawHeartbeat = true
			continue
		}
		final = msg
		break
	}
	assert.Equal(t, Done, final.Kind)
	assert.True(t, sawHeartbeat, "expected at least one HEARTBEAT before DONE")

	require.NoError(t, conn.Send(ctx, Message{Kind: Exit}))
	assert.NoError(t, <-runErrCh)

	for _, id := range []int{0, 1} {
		doc, ok, err := tgt.QueryOne(context.Background(), store.Query{Criteria: store.Eq{"task_id": id}})
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotEmpty(t, doc["n2"])
	}
}

// TestWorkerReportsFailedOnBuilderFactoryError covers the rehydration
// path failing: the Worker must report FAILED rather than crash or hang.
func TestWorkerReportsFailedOnBuilderFactoryError(t *testing.T) {
	bus := NewInProcBus()
	ln, err := bus.Bind(context.Background(), "addr")
	require.NoError(t, err)

	boom := assert.AnError
	w := NewWorker(bus, func(string) (builder.Builder, error) {
		return nil, boom
	}, WorkerOptions{ID: "w1"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- w.Run(ctx, "addr") }()

	conn, err := ln.Accept(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Recv(ctx) // READY
	require.NoError(t, err)
	require.NoError(t, conn.Send(ctx, Message{Kind: ChunkMsg, ChunkIndex: 0, NumChunks: 1}))

	failed, err := conn.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, Failed, failed.Kind)
	assert.Contains(t, failed.Err, boom.Error())

	require.NoError(t, conn.Send(ctx, Message{Kind: Exit}))
	assert.NoError(t, <-runErrCh)
}
