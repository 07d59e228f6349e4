package distributed

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/gob"
	"io"
	"net"
	"sync"

	"github.com/materialsproject/maggma/resource"
	"github.com/materialsproject/maggma/store"
)

func init() {
	// builder.Chunk is map[string]any and can carry a store.GroupKey
	// value (GroupBuilder's Prechunk override) through Message.Override;
	// gob requires concrete types passed through an interface to be
	// registered.
	gob.Register(store.GroupKey{})
}

// TCPBus is the real-network Bus dialect: each Message is framed as a
// 4-byte big-endian length prefix followed by a gob-encoded payload over
// a plain net.Conn. Controller paces both directions' byte throughput
// when configured, via the RateLimitedWriter/RateLimitedReader wrapping
// the resource package elsewhere in this module.
type TCPBus struct {
	// Controller, if non-nil, paces connection throughput via
	// AcquireIO. A nil Controller imposes no limit.
	Controller *resource.Controller
}

// Bind implements Bus.
func (b *TCPBus) Bind(_ context.Context, addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &BusError{Op: "bind", Err: err}
	}
	return &tcpListener{ln: ln, ctrl: b.Controller}, nil
}

// Dial implements Bus.
func (b *TCPBus) Dial(ctx context.Context, addr string) (Conn, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &BusError{Op: "dial", Err: err}
	}
	return newTCPConn(conn, b.Controller), nil
}

type tcpListener struct {
	ln   net.Listener
	ctrl *resource.Controller
}

// Accept implements Listener.
func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	type acceptResult struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan acceptResult, 1)
	go func() {
		conn, err := l.ln.Accept()
		resCh <- acceptResult{conn, err}
	}()
	select {
	case r := <-resCh:
		if r.err != nil {
			return nil, &BusError{Op: "accept", Err: r.err}
		}
		return newTCPConn(r.conn, l.ctrl), nil
	case <-ctx.Done():
		l.ln.Close()
		return nil, ctx.Err()
	}
}

// Close implements Listener.
func (l *tcpListener) Close() error { return l.ln.Close() }

// Addr implements Listener.
func (l *tcpListener) Addr() string { return l.ln.Addr().String() }

type tcpConn struct {
	conn net.Conn
	ctrl *resource.Controller

	writeMu sync.Mutex
	readMu  sync.Mutex
	r       *bufio.Reader
}

func newTCPConn(conn net.Conn, ctrl *resource.Controller) *tcpConn {
	return &tcpConn{conn: conn, ctrl: ctrl, r: bufio.NewReader(conn)}
}

// Send implements Conn: one length-prefixed gob frame per Message.
func (c *tcpConn) Send(ctx context.Context, msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var buf sliceBuffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return &BusError{Op: "send", Err: err}
	}

	var w = c.conn
	var out interface{ Write([]byte) (int, error) } = w
	if c.ctrl != nil {
		out = resource.NewRateLimitedWriter(w, c.ctrl, ctx)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(buf.data)))
	if _, err := out.Write(header[:]); err != nil {
		return &BusError{Op: "send", Err: err}
	}
	if _, err := out.Write(buf.data); err != nil {
		return &BusError{Op: "send", Err: err}
	}
	return nil
}

// Recv implements Conn: blocks for one full frame.
func (c *tcpConn) Recv(ctx context.Context) (Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	var in interface{ Read([]byte) (int, error) } = c.r
	if c.ctrl != nil {
		in = resource.NewRateLimitedReader(c.r, c.ctrl, ctx)
	}

	var header [4]byte
	if _, err := readFull(in, header[:]); err != nil {
		return Message{}, &BusError{Op: "recv", Err: err}
	}
	n := binary.BigEndian.Uint32(header[:])

	payload := make([]byte, n)
	if _, err := readFull(in, payload); err != nil {
		return Message{}, &BusError{Op: "recv", Err: err}
	}

	var msg Message
	if err := gob.NewDecoder(&sliceBuffer{data: payload}).Decode(&msg); err != nil {
		return Message{}, &BusError{Op: "recv", Err: err}
	}
	return msg, nil
}

// Close implements Conn.
func (c *tcpConn) Close() error { return c.conn.Close() }

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// sliceBuffer is a minimal io.Reader/io.Writer over an in-memory slice,
// avoiding a bytes.Buffer import purely for gob's benefit.
type sliceBuffer struct {
	data []byte
	pos  int
}

func (b *sliceBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *sliceBuffer) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}
