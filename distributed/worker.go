package distributed

import (
	"context"
	"time"

	"github.com/materialsproject/maggma/builder"
	"github.com/materialsproject/maggma/engine"
	"github.com/materialsproject/maggma/report"
)

// WorkerOptions configures a Worker run.
type WorkerOptions struct {
	// ID identifies this Worker to the Manager. Defaults to
	// report.MachineID(), a stable per-host value, if empty.
	ID string

	// NumWorkers is the size of this Worker's local Executor worker pool,
	// declared to the Manager with every READY.
	NumWorkers int

	// HeartbeatInterval is how often a running chunk sends HEARTBEAT.
	// <= 0 defaults to 5 seconds.
	HeartbeatInterval time.Duration

	Sink      report.Sink
	MachineID string
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.ID == "" {
		o.ID = report.MachineID()
	}
	if o.NumWorkers <= 0 {
		o.NumWorkers = 1
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 5 * time.Second
	}
	if o.Sink == nil {
		o.Sink = report.NopSink{}
	}
	return o
}

// BuilderFactory produces a fresh, unconnected Builder instance for a
// given name. A Worker calls it once per dispatched chunk so that
// builder.ApplyChunk's attribute overrides never leak between chunks run
// by the same process.
type BuilderFactory func(name string) (builder.Builder, error)

// Worker runs the Worker side of the Manager/Worker protocol: send READY,
// receive CHUNK or EXIT, run the dispatched chunk through a local
// engine.Executor while heartbeating, report DONE or FAILED, and loop.
type Worker struct {
	bus     Bus
	factory BuilderFactory
	opts    WorkerOptions
}

// NewWorker creates a Worker that rehydrates Builders via factory.
func NewWorker(bus Bus, factory BuilderFactory, opts WorkerOptions) *Worker {
	return &Worker{bus: bus, factory: factory, opts: opts.withDefaults()}
}

// Run dials addr and serves chunks until the Manager sends EXIT, ctx is
// cancelled, or the connection fails.
func (w *Worker) Run(ctx context.Context, addr string) error {
	conn, err := w.bus.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		if err := conn.Send(ctx, Message{
			Kind:       Ready,
			WorkerID:   w.opts.ID,
			NumWorkers: w.opts.NumWorkers,
		}); err != nil {
			return err
		}

		msg, err := conn.Recv(ctx)
		if err != nil {
			return err
		}

		switch msg.Kind {
		case Exit:
			return nil

		case ChunkMsg:
			// A failed chunk is reported as FAILED and the Worker loops
			// back to READY; only a transport failure while reporting it
			// ends Run.
			if err := w.runChunk(ctx, conn, msg); err != nil {
				return err
			}

		default:
			return &BusError{Op: "recv", Err: errUnexpectedMessage(msg.Kind)}
		}
	}
}

// runChunk rehydrates the named Builder, applies msg's override map, runs
// it to completion through a local engine.Executor while heartbeating,
// and reports DONE or FAILED.
func (w *Worker) runChunk(ctx context.Context, conn Conn, msg Message) error {
	b, err := w.factory(msg.BuilderName)
	if err != nil {
		return w.reportFailed(ctx, conn, msg, err)
	}

	if a, ok := b.(builder.ApplyChunk); ok {
		if err := a.ApplyChunk(msg.Override); err != nil {
			return w.reportFailed(ctx, conn, msg, err)
		}
	}

	hbMsg := Message{
		Kind:       Heartbeat,
		WorkerID:   w.opts.ID,
		ChunkIndex: msg.ChunkIndex,
		NumChunks:  msg.NumChunks,
	}
	// The first HEARTBEAT goes out before the chunk starts, so even a chunk
	// shorter than HeartbeatInterval is heartbeated before DONE.
	if err := conn.Send(ctx, hbMsg); err != nil {
		return err
	}

	chunkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		ticker := time.NewTicker(w.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-chunkCtx.Done():
				return
			case <-ticker.C:
				if err := conn.Send(chunkCtx, hbMsg); err != nil {
					return
				}
			}
		}
	}()

	exec := engine.NewExecutor(b, engine.Options{
		NumWorkers: w.opts.NumWorkers,
		Sink:       w.opts.Sink,
		MachineID:  w.opts.MachineID,
	})
	_, runErr := exec.Run(chunkCtx)

	cancel()
	<-heartbeatDone

	if runErr != nil {
		return w.reportFailed(ctx, conn, msg, runErr)
	}
	return conn.Send(ctx, Message{
		Kind:       Done,
		WorkerID:   w.opts.ID,
		ChunkIndex: msg.ChunkIndex,
		NumChunks:  msg.NumChunks,
	})
}

func (w *Worker) reportFailed(ctx context.Context, conn Conn, msg Message, cause error) error {
	return conn.Send(ctx, Message{
		Kind:       Failed,
		WorkerID:   w.opts.ID,
		ChunkIndex: msg.ChunkIndex,
		NumChunks:  msg.NumChunks,
		Err:        cause.Error(),
	})
}

type unexpectedMessageError struct {
	kind MessageKind
}

func (e unexpectedMessageError) Error() string {
	return "distributed: unexpected message kind " + string(e.kind)
}

func errUnexpectedMessage(kind MessageKind) error {
	return unexpectedMessageError{kind: kind}
}
