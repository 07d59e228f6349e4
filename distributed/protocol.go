package distributed

import "github.com/materialsproject/maggma/builder"

// MessageKind identifies the role of a Message in the Manager/Worker
// protocol.
type MessageKind string

const (
	// Ready is sent by a Worker offering capacity.
	Ready MessageKind = "READY"
	// ChunkMsg is sent by the Manager dispatching one unit of work.
	ChunkMsg MessageKind = "CHUNK"
	// Exit is sent by the Manager releasing a Worker with no more work.
	Exit MessageKind = "EXIT"
	// Heartbeat is sent by a Worker while a chunk is running.
	Heartbeat MessageKind = "HEARTBEAT"
	// Done is sent by a Worker on successful chunk completion.
	Done MessageKind = "DONE"
	// Failed is sent by a Worker on chunk failure.
	Failed MessageKind = "FAILED"
)

// Message is one frame of the Manager/Worker wire protocol. Only the
// fields relevant to Kind are populated; gob encodes zero values
// compactly.
type Message struct {
	Kind MessageKind

	// WorkerID identifies the sending/addressed Worker.
	WorkerID string

	// NumWorkers is the Worker's local Executor worker-pool size,
	// declared with READY.
	NumWorkers int

	// ChunkIndex and NumChunks place a CHUNK/DONE/FAILED/HEARTBEAT
	// message within the overall dispatch.
	ChunkIndex int
	NumChunks  int

	// BuilderName identifies which Builder the chunk belongs to.
	BuilderName string

	// Override is the attribute-override map from Builder.Prechunk,
	// applied to a freshly rehydrated Builder on the Worker side.
	Override builder.Chunk

	// Err carries the FAILED payload's error message.
	Err string
}
