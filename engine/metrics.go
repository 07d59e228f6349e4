package engine

import "time"

// Observer receives Executor progress notifications, independent of the
// BuildEvent/Reporter path: BuildEvents are a durable record of a run,
// while an Observer is for live operational visibility (queue depth,
// batch throughput) that nothing persists.
//
// Covers the three things an Executor's producer/worker-pool/consumer
// pipeline can usefully report.
type Observer interface {
	// OnBatchWrite is called after every update_targets call, successful
	// or not.
	OnBatchWrite(dur time.Duration, n int, err error)

	// OnItemProcessed is called after every process_item call, successful
	// or not.
	OnItemProcessed(dur time.Duration, err error)

	// OnQueueDepth reports the current depth of a named internal queue
	// ("items" or "results").
	OnQueueDepth(name string, depth int)
}

// NoopObserver discards every notification.
type NoopObserver struct{}

func (NoopObserver) OnBatchWrite(time.Duration, int, error) {}
func (NoopObserver) OnItemProcessed(time.Duration, error)   {}
func (NoopObserver) OnQueueDepth(string, int)               {}
