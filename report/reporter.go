package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/materialsproject/maggma/store"
)

// dropThreshold is the Reporter's event channel capacity. Past this many
// unconsumed events, Emit drops the event rather than block the caller:
// the Reporter is a side channel, never a dependency of the Executor.
const dropThreshold = 256

// Reporter is a Sink that persists BuildEvents to an event-sink Store,
// best-effort: a single background goroutine drains a buffered channel and
// writes one document per event; write failures are logged and never
// propagate back to the emitting side.
//
// Uses a channel-based decoupling idiom and an errHandler-style callback
// for error reporting, generalized here to a log-only error sink since
// Reporter failures must never be fatal.
type Reporter struct {
	sink     store.Store
	buildID  string
	errs     func(error)
	events   chan BuildEvent
	done     chan struct{}
	dropped  int
}

// NewReporter creates a Reporter writing to sink. onError, if non-nil, is
// invoked from the background writer whenever a persisted write fails,
// and from the goroutine calling Emit whenever an event is dropped; the
// two calls may happen at the same time.
func NewReporter(sink store.Store, onError func(error)) *Reporter {
	if onError == nil {
		onError = func(error) {}
	}
	r := &Reporter{
		sink:    sink,
		buildID: uuid.NewString(),
		errs:    onError,
		events:  make(chan BuildEvent, dropThreshold),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// BuildID returns the UUID fixed for this Reporter's lifetime.
func (r *Reporter) BuildID() string { return r.buildID }

func (r *Reporter) run() {
	defer close(r.done)
	ctx := context.Background()
	for ev := range r.events {
		doc := store.Document{
			"event":      string(ev.Kind),
			"builder":    ev.BuilderName,
			"build_id":   ev.BuildID,
			"machine_id": ev.MachineID,
			"at":         ev.At.Format(time.RFC3339Nano),
			"payload":    ev.Payload,
		}
		if err := r.sink.Update(ctx, []store.Document{doc}, []string{"build_id", "event", "at"}); err != nil {
			r.errs(&ReporterError{Op: "update", Err: err})
		}
	}
}

// Emit implements Sink. Non-blocking: if the internal buffer is full, the
// event is dropped and counted rather than stalling the caller.
func (r *Reporter) Emit(_ context.Context, ev BuildEvent) {
	select {
	case r.events <- ev:
	default:
		r.dropped++
		r.errs(&ReporterError{Op: "emit", Err: fmt.Errorf("event buffer full, dropped %s event for %s", ev.Kind, ev.BuilderName)})
	}
}

// Dropped returns the number of events dropped due to a full buffer.
func (r *Reporter) Dropped() int { return r.dropped }

// Close stops accepting events and waits for the background writer to
// drain what remains in the buffer.
func (r *Reporter) Close() {
	close(r.events)
	<-r.done
}
