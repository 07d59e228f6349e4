// Package engine implements the single-process Executor: a bounded
// producer/worker-pool/consumer pipeline that drives one Builder's three
// lifecycle phases concurrently.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/materialsproject/maggma/builder"
	"github.com/materialsproject/maggma/report"
)

// Options configures an Executor run.
type Options struct {
	// NumWorkers is the size of the process_item worker pool. <= 0
	// defaults to 1. 1 degenerates to in-process serial mode.
	NumWorkers int

	// ChunkSize bounds the size of each update_targets batch. <= 0
	// defaults to 1000.
	ChunkSize int

	// IdleFlush is the maximum time the consumer holds a partial batch
	// before flushing it to update_targets even if ChunkSize hasn't been
	// reached. <= 0 defaults to 2 seconds.
	IdleFlush time.Duration

	// Sink receives STARTED/UPDATE/ENDED BuildEvents. Defaults to
	// report.NopSink{}.
	Sink report.Sink

	// BuildID and MachineID are stamped onto every emitted BuildEvent.
	BuildID   string
	MachineID string

	// Observer receives live progress notifications. Defaults to
	// NoopObserver{}.
	Observer Observer
}

func (o Options) withDefaults() Options {
	if o.NumWorkers <= 0 {
		o.NumWorkers = 1
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1000
	}
	if o.IdleFlush <= 0 {
		o.IdleFlush = 2 * time.Second
	}
	if o.Sink == nil {
		o.Sink = report.NopSink{}
	}
	if o.Observer == nil {
		o.Observer = NoopObserver{}
	}
	return o
}

// Result summarizes one completed Run.
type Result struct {
	Items    int
	Errors   int
	Warnings int
	Duration time.Duration
}

// Executor runs one Builder to completion: connect, stream get_items
// through a bounded worker pool applying process_item, batch the results
// into update_targets calls, then finalize and close.
//
// A producer goroutine owns get_items, a WorkerPool applies process_item
// with bounded concurrency, and a consumer goroutine owns update_targets,
// keeping a single-reader/single-writer ownership split on every Store.
type Executor struct {
	b    builder.Builder
	opts Options
	ran  atomic.Bool
}

// NewExecutor creates an Executor for b.
func NewExecutor(b builder.Builder, opts Options) *Executor {
	return &Executor{b: b, opts: opts.withDefaults()}
}

// Run drives the Builder to completion. ctx cancellation stops the
// producer from submitting further items; items already in flight run to
// completion (cooperative cancellation, see builder.Timeouter), the
// consumer flushes what it has, and Run returns ctx.Err() alongside the
// partial Result.
func (e *Executor) Run(ctx context.Context) (Result, error) {
	if !e.ran.CompareAndSwap(false, true) {
		return Result{}, ErrExecutorClosed
	}

	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := e.b.Logger()
	log.LogRunStart(runCtx, e.opts.NumWorkers)

	if err := e.b.Connect(runCtx); err != nil {
		return Result{Duration: time.Since(start)}, err
	}
	defer e.b.Close(context.Background())

	e.emitStarted(runCtx)

	pool := NewWorkerPool(e.opts.NumWorkers, e.processItem)
	defer pool.Close()

	resultCh := make(chan outcome, e.opts.NumWorkers*2)

	var submitted int64
	var producerErr error
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		for item, err := range e.b.GetItems(runCtx) {
			if err != nil {
				producerErr = err
				cancel()
				return
			}
			select {
			case <-runCtx.Done():
				return
			default:
			}
			if err := pool.Submit(runCtx, item, resultCh); err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					producerErr = err
				}
				return
			}
			atomic.AddInt64(&submitted, 1)
			e.opts.Observer.OnQueueDepth("items", int(atomic.LoadInt64(&submitted)))
		}
	}()

	stats, consumerErr := e.consume(runCtx, resultCh, producerDone, &submitted, cancel)

	if err := e.finalize(context.Background()); err != nil {
		if consumerErr == nil {
			consumerErr = err
		}
	}

	dur := time.Since(start)
	e.emitEnded(runCtx, stats, dur)
	log.LogRunEnd(runCtx, stats.Errors, stats.Warnings, dur)

	result := Result{Items: stats.Items, Errors: stats.Errors, Warnings: stats.Warnings, Duration: dur}

	if producerErr != nil {
		return result, producerErr
	}
	if consumerErr != nil {
		return result, consumerErr
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

type runStats struct {
	Items    int
	Errors   int
	Warnings int
}

// consume batches successful ProcessItem outcomes and flushes them via
// UpdateTargets. For failed items it records the failure through
// builder.ErrorRecorder if the Builder implements it; otherwise the item
// is dropped for a bare Builder with no ErrorRecorder implementation.
func (e *Executor) consume(ctx context.Context, resultCh chan outcome, producerDone <-chan struct{}, submitted *int64, cancel context.CancelFunc) (runStats, error) {
	var stats runStats
	var batch []any
	var received int64
	var fatalErr error
	producerFinished := false

	flushTimer := time.NewTimer(e.opts.IdleFlush)
	defer flushTimer.Stop()

	// flush is skipped once fatalErr is set: the target write path is
	// presumed broken, so further batches are discarded rather than
	// retried. The loop keeps draining resultCh regardless, so in-flight
	// workers never block on a send nobody will receive.
	flush := func() {
		if fatalErr != nil || len(batch) == 0 {
			batch = batch[:0]
			return
		}
		started := time.Now()
		err := e.b.UpdateTargets(ctx, batch)
		dur := time.Since(started)
		e.b.Logger().LogBatchWrite(ctx, len(batch), dur, err)
		e.opts.Observer.OnBatchWrite(dur, len(batch), err)
		n := len(batch)
		batch = batch[:0]
		if err != nil {
			fatalErr = &SinkError{Err: err}
			cancel()
			return
		}
		e.opts.Sink.Emit(ctx, report.BuildEvent{
			Kind:        report.Updated,
			BuilderName: e.b.Name(),
			BuildID:     e.opts.BuildID,
			MachineID:   e.opts.MachineID,
			At:          time.Now(),
			Payload:     report.ToPayload(report.UpdatedPayload{Count: n}),
		})
	}

	for !(producerFinished && received >= atomic.LoadInt64(submitted)) {
		select {
		case res := <-resultCh:
			received++
			stats.Items++
			e.opts.Observer.OnQueueDepth("results", int(received))
			if res.err != nil {
				stats.Errors++
				e.b.Logger().LogItemError(ctx, errorKind(res.err), res.err)
				if rec, ok := e.b.(builder.ErrorRecorder); ok {
					batch = append(batch, rec.RecordError(res.item, res.err))
				}
			} else if res.result != nil {
				batch = append(batch, res.result)
			}
			if len(batch) >= e.opts.ChunkSize {
				flush()
			}
		case <-producerDone:
			producerFinished = true
		case <-flushTimer.C:
			flush()
			flushTimer.Reset(e.opts.IdleFlush)
		}
	}

	flush()
	return stats, fatalErr
}

func errorKind(err error) string {
	var to *builder.ItemTimeout
	if errors.As(err, &to) {
		return "timeout"
	}
	return "error"
}

func (e *Executor) processItem(ctx context.Context, item any) (any, error) {
	started := time.Now()
	timeout := time.Duration(0)
	if t, ok := e.b.(builder.Timeouter); ok {
		timeout = t.Timeout()
	}

	var result any
	var err error
	if timeout <= 0 {
		result, err = e.b.ProcessItem(ctx, item)
	} else {
		result, err = e.processItemWithTimeout(ctx, item, timeout)
	}

	e.opts.Observer.OnItemProcessed(time.Since(started), err)
	return result, err
}

// processItemWithTimeout races process_item against a per-item deadline.
// Cancellation is cooperative: ctx is cancelled when the deadline expires,
// but a Builder that ignores ctx keeps running in its own goroutine until
// it returns on its own (see the Open Question decision in DESIGN.md).
func (e *Executor) processItemWithTimeout(ctx context.Context, item any, timeout time.Duration) (any, error) {
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcomePair struct {
		result any
		err    error
	}
	done := make(chan outcomePair, 1)
	go func() {
		result, err := e.b.ProcessItem(itemCtx, item)
		done <- outcomePair{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-itemCtx.Done():
		return nil, &builder.ItemTimeout{Key: item}
	}
}

func (e *Executor) finalize(ctx context.Context) error {
	if f, ok := e.b.(builder.Finalizable); ok {
		return f.Finalize(ctx)
	}
	return nil
}

func (e *Executor) emitStarted(ctx context.Context) {
	var total *int
	if t, ok := e.b.(builder.Totaler); ok {
		if n, ok2 := t.Total(ctx); ok2 {
			total = &n
		}
	}
	var sources, targets []string
	if dep, ok := e.b.(builder.Dependencies); ok {
		sources, targets = dep.Stores()
	}
	e.opts.Sink.Emit(ctx, report.BuildEvent{
		Kind:        report.Started,
		BuilderName: e.b.Name(),
		BuildID:     e.opts.BuildID,
		MachineID:   e.opts.MachineID,
		At:          time.Now(),
		Payload: report.ToPayload(report.StartedPayload{
			Sources: sources,
			Targets: targets,
			Total:   total,
		}),
	})
}

func (e *Executor) emitEnded(ctx context.Context, stats runStats, dur time.Duration) {
	e.opts.Sink.Emit(ctx, report.BuildEvent{
		Kind:        report.Ended,
		BuilderName: e.b.Name(),
		BuildID:     e.opts.BuildID,
		MachineID:   e.opts.MachineID,
		At:          time.Now(),
		Payload: report.ToPayload(report.EndedPayload{
			Errors:   stats.Errors,
			Warnings: stats.Warnings,
			Duration: dur,
		}),
	})
}
