// Package distributed implements a Manager/Worker coordinator: a Manager
// dispatches prechunked work over a message bus to Workers, each of
// which runs a local engine.Executor per chunk.
package distributed

import "context"

// Bus is the transport abstraction a Manager binds and Workers dial.
// Two dialects sit behind this one abstraction: InProcBus (in-memory,
// for tests and single-host use) and TCPBus (length-prefixed gob frames
// over net.Conn).
type Bus interface {
	// Bind opens a control endpoint at addr and returns a Listener new
	// Worker connections arrive on.
	Bind(ctx context.Context, addr string) (Listener, error)

	// Dial connects to a Manager's control endpoint at addr.
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Listener accepts incoming Worker connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() string
}

// Conn is one bidirectional message stream between a Manager and a
// Worker.
type Conn interface {
	Send(ctx context.Context, msg Message) error
	Recv(ctx context.Context) (Message, error)
	Close() error
}
