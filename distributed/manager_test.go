package distributed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materialsproject/maggma/builder"
	"github.com/materialsproject/maggma/store"
)

// seedDistributedDocs is shared source fixture data for the distributed
// tests below; every chunk's freshly rehydrated Builder writes into the
// same backing target Store, mirroring how a real BuilderFactory would
// rehydrate a MapBuilder pointed at one shared target collection.
func seedDistributedDocs(t *testing.T, src *store.MemoryStore, n int) {
	t.Helper()
	docs := make([]store.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, store.Document{"task_id": i, "n": i, "last_updated": "2024-01-01T00:00:00Z"})
	}
	require.NoError(t, src.Update(context.Background(), docs, nil))
}

// TestDistributedRunMatchesSingleProcessExecutor checks that
// num_chunks=3, num_workers=2 reaches the same target state as a
// single-process run over the same source.
func TestDistributedRunMatchesSingleProcessExecutor(t *testing.T) {
	src := store.NewMemoryStore("src", "task_id", "last_updated")
	seedDistributedDocs(t, src, 9)
	tgt := store.NewMemoryStore("tgt", "task_id", "last_updated")

	master := builder.NewMapBuilder("doubler", src, tgt, func(_ context.Context, item store.Document) (store.Document, error) {
		n, _ := item["n"].(int)
		return store.Document{"n2": n * 2}, nil
	})

	bus := NewInProcBus()
	mgr := NewManager(master, bus, ManagerOptions{
		NumChunks:        3,
		HeartbeatTimeout: time.Second,
	})

	var wg sync.WaitGroup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mgrErrCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		mgrErrCh <- mgr.Run(ctx, "manager")
	}()

	for i := 0; i < 2; i++ {
		w := NewWorker(bus, func(name string) (builder.Builder, error) {
			return builder.NewMapBuilder(name, src, tgt, func(_ context.Context, item store.Document) (store.Document, error) {
				n, _ := item["n"].(int)
				return store.Document{"n2": n * 2}, nil
			}), nil
		}, WorkerOptions{ID: fmt.Sprintf("w%d", i), NumWorkers: 2, HeartbeatInterval: 50 * time.Millisecond})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Run(ctx, "manager")
		}()
	}

	require.NoError(t, <-mgrErrCh)
	wg.Wait()

	for i := 0; i < 9; i++ {
		doc, ok, err := tgt.QueryOne(context.Background(), store.Query{Criteria: store.Eq{"task_id": i}})
		require.NoError(t, err)
		require.True(t, ok, "missing task_id %d", i)
		assert.Equal(t, i*2, doc["n2"])
	}
}

// TestDistributedManagerRequeuesChunkAfterWorkerDeath checks that
// killing a Worker after it acks CHUNK but before DONE does not lose or
// duplicate the chunk's output.
func TestDistributedManagerRequeuesChunkAfterWorkerDeath(t *testing.T) {
	src := store.NewMemoryStore("src", "task_id", "last_updated")
	seedDistributedDocs(t, src, 6)
	tgt := store.NewMemoryStore("tgt", "task_id", "last_updated")

	master := builder.NewMapBuilder("doubler", src, tgt, func(_ context.Context, item store.Document) (store.Document, error) {
		n, _ := item["n"].(int)
		return store.Document{"n2": n * 2}, nil
	})

	bus := NewInProcBus()
	mgr := NewManager(master, bus, ManagerOptions{
		NumChunks:          3,
		HeartbeatTimeout:   120 * time.Millisecond,
		MaxRetriesPerChunk: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mgrErrCh := make(chan error, 1)
	go func() { mgrErrCh <- mgr.Run(ctx, "manager2") }()

	// A Worker that takes the first chunk it's given and then vanishes
	// without ever sending DONE or another HEARTBEAT, simulating a kill
	// between CHUNK and DONE.
	deadConn, err := bus.Dial(ctx, "manager2")
	require.NoError(t, err)
	require.NoError(t, deadConn.Send(ctx, Message{Kind: Ready, WorkerID: "dead", NumWorkers: 1}))
	chunkMsg, err := deadConn.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, ChunkMsg, chunkMsg.Kind)
	// Silence: no HEARTBEAT, no DONE. The connection is simply abandoned.

	// A live Worker that keeps asking for work until EXIT.
	w := NewWorker(bus, func(name string) (builder.Builder, error) {
		return builder.NewMapBuilder(name, src, tgt, func(_ context.Context, item store.Document) (store.Document, error) {
			n, _ := item["n"].(int)
			return store.Document{"n2": n * 2}, nil
		}), nil
	}, WorkerOptions{ID: "live", NumWorkers: 1, HeartbeatInterval: 30 * time.Millisecond})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.Run(ctx, "manager2")
	}()

	require.NoError(t, <-mgrErrCh)
	wg.Wait()
	deadConn.Close()

	for i := 0; i < 6; i++ {
		doc, ok, err := tgt.QueryOne(context.Background(), store.Query{Criteria: store.Eq{"task_id": i}})
		require.NoError(t, err)
		require.True(t, ok, "missing task_id %d after requeue", i)
		assert.Equal(t, i*2, doc["n2"])
	}
}

// TestDistributedManagerIgnoresLateReportAfterRequeue checks that a
// presumed-dead Worker's connection staying open and eventually sending a
// late DONE/FAILED for a chunk that has since been re-queued to (and
// completed by) a different Worker does not release the dispatch governor
// a second time for that chunk's single READY acquire. A double release
// would eventually drive the semaphore negative and panic.
func TestDistributedManagerIgnoresLateReportAfterRequeue(t *testing.T) {
	src := store.NewMemoryStore("src", "task_id", "last_updated")
	seedDistributedDocs(t, src, 1)
	tgt := store.NewMemoryStore("tgt", "task_id", "last_updated")

	master := builder.NewMapBuilder("doubler", src, tgt, func(_ context.Context, item store.Document) (store.Document, error) {
		n, _ := item["n"].(int)
		return store.Document{"n2": n * 2}, nil
	})

	bus := NewInProcBus()
	mgr := NewManager(master, bus, ManagerOptions{
		NumChunks:          1,
		HeartbeatTimeout:   50 * time.Millisecond,
		MaxRetriesPerChunk: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mgrErrCh := make(chan error, 1)
	go func() { mgrErrCh <- mgr.Run(ctx, "manager3") }()

	// "stale" claims the only chunk and then goes silent: no HEARTBEAT,
	// no DONE. The watchdog will presume it dead and re-queue the chunk,
	// releasing the permit that claim acquired. The connection itself is
	// kept open rather than abandoned, so it can later deliver a late
	// report for the chunk it no longer owns.
	staleConn, err := bus.Dial(ctx, "manager3")
	require.NoError(t, err)
	require.NoError(t, staleConn.Send(ctx, Message{Kind: Ready, WorkerID: "stale", NumWorkers: 1}))
	chunkMsg, err := staleConn.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, ChunkMsg, chunkMsg.Kind)
	require.Equal(t, 0, chunkMsg.ChunkIndex)

	// Wait past HeartbeatTimeout so the watchdog re-queues chunk 0.
	time.Sleep(200 * time.Millisecond)

	// "fresh" claims the re-queued chunk and completes it for real.
	freshConn, err := bus.Dial(ctx, "manager3")
	require.NoError(t, err)
	require.NoError(t, freshConn.Send(ctx, Message{Kind: Ready, WorkerID: "fresh", NumWorkers: 1}))
	chunkMsg, err = freshConn.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, ChunkMsg, chunkMsg.Kind)
	require.Equal(t, 0, chunkMsg.ChunkIndex)
	require.NoError(t, freshConn.Send(ctx, Message{Kind: Done, WorkerID: "fresh", ChunkIndex: 0}))

	// "stale" finally reports DONE for the chunk it was re-queued off of.
	// Its connection is still being served, so the Manager must receive
	// and discard this without releasing the governor a second time.
	require.NoError(t, staleConn.Send(ctx, Message{Kind: Done, WorkerID: "stale", ChunkIndex: 0}))

	require.NoError(t, <-mgrErrCh)
	staleConn.Close()
	freshConn.Close()

	doc, ok, err := tgt.QueryOne(context.Background(), store.Query{Criteria: store.Eq{"task_id": 0}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, doc["n2"])
}
