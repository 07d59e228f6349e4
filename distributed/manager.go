package distributed

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/materialsproject/maggma"
	"github.com/materialsproject/maggma/builder"
	"github.com/materialsproject/maggma/report"
	"github.com/materialsproject/maggma/resource"
)

// ManagerOptions configures a Manager run.
type ManagerOptions struct {
	// NumChunks is the number of disjoint chunks to split the Builder's
	// work into via Prechunk. <= 0 defaults to 1 (single chunk, no
	// parallelism gained from distribution beyond the single Worker that
	// claims it).
	NumChunks int

	// HeartbeatTimeout is how long the Manager waits without a HEARTBEAT
	// before presuming a Worker dead and re-queueing its chunk. <= 0
	// defaults to 30 seconds.
	HeartbeatTimeout time.Duration

	// MaxRetriesPerChunk bounds how many times a chunk may be re-queued
	// after a Worker failure before the Manager gives up and fails the
	// run. <= 0 defaults to 3.
	MaxRetriesPerChunk int

	Sink      report.Sink
	BuildID   string
	MachineID string
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.NumChunks <= 0 {
		o.NumChunks = 1
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 30 * time.Second
	}
	if o.MaxRetriesPerChunk <= 0 {
		o.MaxRetriesPerChunk = 3
	}
	if o.Sink == nil {
		o.Sink = report.NopSink{}
	}
	return o
}

// Manager dispatches one Builder's prechunked work to connecting Workers
// over a Bus: bind, accept READY, dispatch CHUNK, track
// HEARTBEAT/DONE/FAILED, re-queue on timeout up to a retry budget, and
// Finalize once every chunk is DONE.
type Manager struct {
	builder builder.Builder
	bus     Bus
	opts    ManagerOptions

	// gov bounds the number of dispatched-but-not-yet-terminal chunks to
	// NumChunks x 2; the number of Workers is not part of the bound.
	// Repurposed from
	// resource.Controller's background-worker semaphore.
	gov *resource.Controller

	// doneMu guards done, a KeySet of completed chunk indices. Kept
	// separate from the chunkSlot state machine (which also needs the
	// pending/dispatched distinction a set can't express) as the
	// dedicated chunk-coverage bookkeeping structure.
	doneMu sync.Mutex
	done   *builder.KeySet
}

// NewManager creates a Manager for b, dispatching over bus.
func NewManager(b builder.Builder, bus Bus, opts ManagerOptions) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		builder: b,
		bus:     bus,
		opts:    opts,
		gov: resource.NewController(resource.Config{
			MaxBackgroundWorkers: int64(opts.NumChunks) * 2,
		}),
		done: builder.NewKeySet(),
	}
}

type chunkState int

const (
	chunkPending chunkState = iota
	chunkDispatched
	chunkDone
)

type chunkSlot struct {
	index    int
	override builder.Chunk
	state    chunkState
	worker   string
	retries  int
	lastBeat time.Time
}

// Run binds addr, accepts Worker connections, and drives the dispatch loop
// to completion: every chunk reaches chunkDone, or a chunk exhausts its
// retry budget and Run returns an error.
func (m *Manager) Run(ctx context.Context, addr string) error {
	log := m.builder.Logger().WithBuilder(m.builder.Name())

	if err := m.builder.Connect(ctx); err != nil {
		return err
	}
	defer m.builder.Close(context.Background())

	chunks, err := m.prechunk(ctx)
	if err != nil {
		return err
	}

	m.opts.Sink.Emit(ctx, report.BuildEvent{
		Kind:        report.Started,
		BuilderName: m.builder.Name(),
		BuildID:     m.opts.BuildID,
		MachineID:   m.opts.MachineID,
		At:          time.Now(),
		Payload:     map[string]any{"num_chunks": len(chunks)},
	})

	ln, err := m.bus.Bind(ctx, addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	slots := make([]*chunkSlot, len(chunks))
	for i, c := range chunks {
		slots[i] = &chunkSlot{index: i, override: c}
	}

	errCh := make(chan error, 1)
	var wg sync.WaitGroup

	acceptLoop := func() {
		for {
			conn, err := ln.Accept(runCtx)
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.serveWorker(runCtx, conn, &mu, slots, log)
			}()
		}
	}
	go acceptLoop()

	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		m.watchdog(runCtx, &mu, slots, log, errCh)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if m.allDone(len(slots)) {
				return
			}
			select {
			case <-runCtx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		cancel()
		wg.Wait()
		<-watchdogDone
		return err
	case <-ctx.Done():
		cancel()
		wg.Wait()
		<-watchdogDone
		return ctx.Err()
	}

	cancel()
	wg.Wait()
	<-watchdogDone

	finalizeErr := m.finalize(context.Background())

	mu.Lock()
	stats := runStats(slots)
	mu.Unlock()

	m.opts.Sink.Emit(ctx, report.BuildEvent{
		Kind:        report.Ended,
		BuilderName: m.builder.Name(),
		BuildID:     m.opts.BuildID,
		MachineID:   m.opts.MachineID,
		At:          time.Now(),
		Payload:     map[string]any{"failed_chunks": stats},
	})

	return finalizeErr
}

func (m *Manager) prechunk(ctx context.Context) ([]builder.Chunk, error) {
	p, ok := m.builder.(builder.Prechunkable)
	if !ok {
		return []builder.Chunk{{}}, nil
	}
	seq, err := p.Prechunk(ctx, m.opts.NumChunks)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

func runStats(slots []*chunkSlot) int {
	n := 0
	for _, s := range slots {
		if s.retries > 0 {
			n++
		}
	}
	return n
}

// allDone reports whether every chunk index in [0, total) has been marked
// complete in the coverage KeySet.
func (m *Manager) allDone(total int) bool {
	m.doneMu.Lock()
	defer m.doneMu.Unlock()
	return m.done.Len() >= total
}

// serveWorker runs the Manager side of one Worker connection: accept
// READY, dispatch a pending chunk or EXIT, and track HEARTBEAT/DONE/FAILED
// for whatever chunk it was given.
func (m *Manager) serveWorker(ctx context.Context, conn Conn, mu *sync.Mutex, slots []*chunkSlot, log *maggma.Logger) {
	defer conn.Close()

	for {
		msg, err := conn.Recv(ctx)
		if err != nil {
			return
		}

		switch msg.Kind {
		case Ready:
			if err := m.gov.AcquireBackground(ctx); err != nil {
				return
			}
			// No chunk pending right now doesn't mean none ever will be:
			// a dispatched chunk may still be re-queued by the watchdog
			// after this Worker asks. Wait rather than EXIT until either
			// a chunk frees up or every chunk has actually reached DONE.
			slot, err := m.claimPendingOrWaitDone(ctx, mu, slots, msg.WorkerID)
			if err != nil {
				m.gov.ReleaseBackground()
				return
			}
			if slot == nil {
				m.gov.ReleaseBackground()
				conn.Send(ctx, Message{Kind: Exit})
				return
			}

			log.LogChunkDispatch(ctx, msg.WorkerID, slot.index, len(slots))
			if err := conn.Send(ctx, Message{
				Kind:        ChunkMsg,
				WorkerID:    msg.WorkerID,
				ChunkIndex:  slot.index,
				NumChunks:   len(slots),
				BuilderName: m.builder.Name(),
				Override:    slot.override,
			}); err != nil {
				mu.Lock()
				slot.state = chunkPending
				mu.Unlock()
				m.gov.ReleaseBackground()
				return
			}

		case Heartbeat:
			mu.Lock()
			if slot := findByIndex(slots, msg.ChunkIndex); slot != nil && slot.worker == msg.WorkerID {
				slot.lastBeat = time.Now()
			}
			mu.Unlock()

		case Done:
			mu.Lock()
			if slot := findByIndex(slots, msg.ChunkIndex); slot != nil && slot.worker == msg.WorkerID {
				slot.state = chunkDone
				m.doneMu.Lock()
				m.done.Add(slot.index)
				m.doneMu.Unlock()
				m.gov.ReleaseBackground()
			}
			mu.Unlock()
			// Worker loops back to READY on the same connection.

		case Failed:
			mu.Lock()
			if slot := findByIndex(slots, msg.ChunkIndex); slot != nil && slot.worker == msg.WorkerID {
				slot.state = chunkPending
				slot.worker = ""
				m.gov.ReleaseBackground()
			}
			mu.Unlock()
			// Worker loops back to READY on the same connection.

		default:
			return
		}
	}
}

// claimPendingOrWaitDone blocks until a pending chunk can be atomically
// claimed for workerID (returned already marked chunkDispatched) or every
// chunk has reached chunkDone (nil, nil returned so the caller sends
// EXIT).
func (m *Manager) claimPendingOrWaitDone(ctx context.Context, mu *sync.Mutex, slots []*chunkSlot, workerID string) (*chunkSlot, error) {
	for {
		mu.Lock()
		if slot := nextPending(slots); slot != nil {
			slot.state = chunkDispatched
			slot.worker = workerID
			slot.lastBeat = time.Now()
			mu.Unlock()
			return slot, nil
		}
		mu.Unlock()
		if m.allDone(len(slots)) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func nextPending(slots []*chunkSlot) *chunkSlot {
	for _, s := range slots {
		if s.state == chunkPending {
			return s
		}
	}
	return nil
}

func findByIndex(slots []*chunkSlot, idx int) *chunkSlot {
	for _, s := range slots {
		if s.index == idx {
			return s
		}
	}
	return nil
}

// watchdog re-queues chunks whose Worker has gone silent past
// HeartbeatTimeout, up to MaxRetriesPerChunk, giving at-least-once
// dispatch under Worker death.
func (m *Manager) watchdog(ctx context.Context, mu *sync.Mutex, slots []*chunkSlot, log *maggma.Logger, errCh chan<- error) {
	ticker := time.NewTicker(m.opts.HeartbeatTimeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mu.Lock()
			for _, s := range slots {
				if s.state != chunkDispatched {
					continue
				}
				if time.Since(s.lastBeat) <= m.opts.HeartbeatTimeout {
					continue
				}
				if s.retries >= m.opts.MaxRetriesPerChunk {
					mu.Unlock()
					select {
					case errCh <- fmt.Errorf("distributed: chunk %d exceeded retry budget", s.index):
					default:
					}
					return
				}
				log.LogChunkRequeue(ctx, s.worker, s.index)
				s.state = chunkPending
				s.worker = ""
				s.retries++
				m.gov.ReleaseBackground()
			}
			mu.Unlock()
		}
	}
}

func (m *Manager) finalize(ctx context.Context) error {
	if f, ok := m.builder.(builder.Finalizable); ok {
		return f.Finalize(ctx)
	}
	return nil
}
