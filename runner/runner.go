// Package runner is the top-level driver: it materializes Builders,
// orders them, picks single-process or distributed execution, wires the
// Reporter, and propagates fatal errors with a nonzero exit status.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/materialsproject/maggma"
	"github.com/materialsproject/maggma/builder"
	"github.com/materialsproject/maggma/distributed"
	"github.com/materialsproject/maggma/engine"
	"github.com/materialsproject/maggma/report"
	"github.com/materialsproject/maggma/store"
)

// Mode selects how Run executes the ordered Builder list.
type Mode int

const (
	// ModeExecutor runs every Builder locally through engine.Executor.
	ModeExecutor Mode = iota
	// ModeDistributedManager runs every Builder as a distributed.Manager,
	// dispatching chunks to connecting Workers.
	ModeDistributedManager
	// ModeDistributedWorker ignores the Builder list and runs a single
	// distributed.Worker loop, rehydrating whatever Builder each dispatched
	// chunk names.
	ModeDistributedWorker
)

// Runner orders and runs a Builder list.
type Runner struct {
	builders []builder.Builder
	log      *maggma.Logger
	sink     report.Sink
	reporter *report.Reporter

	mode Mode

	numWorkers int

	// Distributed-manager fields.
	bus       distributed.Bus
	bindAddr  string
	numChunks int

	// Distributed-worker fields.
	connectAddr    string
	builderFactory distributed.BuilderFactory
	workerID       string
}

// Option configures a Runner.
type Option func(*Runner)

// WithBuilders appends builders to the ordered run list.
func WithBuilders(builders ...builder.Builder) Option {
	return func(r *Runner) { r.builders = append(r.builders, builders...) }
}

// WithLogger overrides the Runner's logger. Defaults to a text logger at
// info level.
func WithLogger(log *maggma.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithReporter installs a Reporter persisting BuildEvents to sink.
// Reporter write failures are logged through the Runner's logger and
// never abort the build.
func WithReporter(sink store.Store) Option {
	return func(r *Runner) {
		r.reporter = report.NewReporter(sink, func(err error) {
			r.log.WarnContext(context.Background(), "reporter write failed", "error", err)
		})
		r.sink = r.reporter
	}
}

// WithWorkers sets the single-process worker-pool size (ModeExecutor) or
// the per-chunk worker-pool size each dispatched chunk runs with
// (ModeDistributedWorker). <= 0 defaults to 1.
func WithWorkers(n int) Option {
	return func(r *Runner) { r.numWorkers = n }
}

// WithDistributedManager switches Run to ModeDistributedManager: every
// Builder in the ordered list is run as a distributed.Manager bound to
// addr over bus, splitting its work into numChunks chunks.
func WithDistributedManager(bus distributed.Bus, addr string, numChunks int) Option {
	return func(r *Runner) {
		r.mode = ModeDistributedManager
		r.bus = bus
		r.bindAddr = addr
		r.numChunks = numChunks
	}
}

// WithDistributedWorker switches Run to ModeDistributedWorker: Run ignores
// the Builder list and instead runs a distributed.Worker that dials addr
// over bus and rehydrates each dispatched chunk's Builder via factory.
func WithDistributedWorker(bus distributed.Bus, addr string, factory distributed.BuilderFactory) Option {
	return func(r *Runner) {
		r.mode = ModeDistributedWorker
		r.bus = bus
		r.connectAddr = addr
		r.builderFactory = factory
	}
}

// WithWorkerID sets the distributed Worker's self-reported ID. Defaults
// to report.MachineID().
func WithWorkerID(id string) Option {
	return func(r *Runner) { r.workerID = id }
}

// New creates a Runner. Defaults to ModeExecutor with one worker and a
// NopSink.
func New(opts ...Option) *Runner {
	r := &Runner{
		log:        maggma.NewTextLogger(slog.LevelInfo),
		sink:       report.NopSink{},
		numWorkers: 1,
		mode:       ModeExecutor,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close releases any Reporter the Runner installed. Safe to call on a
// Runner with no Reporter.
func (r *Runner) Close() {
	if r.reporter != nil {
		r.reporter.Close()
	}
}

// Run executes the Runner per its configured Mode. In ModeExecutor and
// ModeDistributedManager, Builders run strictly one at a time in
// dependency order; a fatal error from one Builder stops the run without
// starting the next. Run returns a non-nil error whenever the process
// should exit nonzero.
func (r *Runner) Run(ctx context.Context) error {
	buildID := uuid.NewString()
	if r.reporter != nil {
		buildID = r.reporter.BuildID()
	}
	machineID := report.MachineID()

	switch r.mode {
	case ModeDistributedWorker:
		return r.runWorker(ctx)
	case ModeDistributedManager:
		if len(r.builders) == 0 {
			return maggma.ErrNoBuilders
		}
		return r.runOrdered(ctx, buildID, machineID, r.runManager)
	default:
		if len(r.builders) == 0 {
			return maggma.ErrNoBuilders
		}
		return r.runOrdered(ctx, buildID, machineID, r.runExecutor)
	}
}

func (r *Runner) runOrdered(ctx context.Context, buildID, machineID string, run func(ctx context.Context, b builder.Builder, buildID, machineID string) error) error {
	ordered, err := order(r.builders)
	if err != nil {
		return err
	}
	for _, b := range ordered {
		if err := run(ctx, b, buildID, machineID); err != nil {
			return fmt.Errorf("runner: builder %s: %w", b.Name(), err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runExecutor(ctx context.Context, b builder.Builder, buildID, machineID string) error {
	exec := engine.NewExecutor(b, engine.Options{
		NumWorkers: r.numWorkers,
		Sink:       r.sink,
		BuildID:    buildID,
		MachineID:  machineID,
	})
	_, err := exec.Run(ctx)
	return err
}

func (r *Runner) runManager(ctx context.Context, b builder.Builder, buildID, machineID string) error {
	mgr := distributed.NewManager(b, r.bus, distributed.ManagerOptions{
		NumChunks: r.numChunks,
		Sink:      r.sink,
		BuildID:   buildID,
		MachineID: machineID,
	})
	return mgr.Run(ctx, r.bindAddr)
}

func (r *Runner) runWorker(ctx context.Context) error {
	if r.builderFactory == nil {
		return errors.New("runner: distributed worker mode requires WithDistributedWorker's factory")
	}
	w := distributed.NewWorker(r.bus, r.builderFactory, distributed.WorkerOptions{
		ID:         r.workerID,
		NumWorkers: r.numWorkers,
		Sink:       r.sink,
		MachineID:  report.MachineID(),
	})
	return w.Run(ctx, r.connectAddr)
}
