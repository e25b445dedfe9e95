package evoasync

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// connHandler is the contract a protocol implementation (MemcachedClient or
// a server connection) must satisfy to be driven by an EventLoop. It is the
// Go restatement of the original's compile-time "Protocol handler"
// requirements (on_read, on_read_fixed, on_error, MIN_INITIAL_READ),
// expressed as an interface so a single dyn handle drives either side.
type connHandler interface {
	// onReadable is invoked whenever new bytes have been appended to buf. It
	// must consume as many complete requests/responses as are buffered and
	// return promptly; it must never block. Returning ok=false closes the
	// connection (err may be nil for a clean close).
	onReadable(buf *AsyncBuffers) (ok bool, err error)

	// onError is invoked once, with the connection already considered dead,
	// classifying why it was torn down.
	onError(kind AsyncError, err error)

	// minInitialRead is the minimum buffered bytes required before the
	// first onReadable dispatch of a fresh request/response cycle.
	minInitialRead() int
}

// EventLoop is the external seam spec section 4 describes as out of scope to
// fully implement: readiness notification, timers, and the single-threaded
// callback-dispatch guarantee. evoasync depends only on this interface;
// *LocalEventLoop below is one concrete, goroutine-based implementation
// sufficient to run and test the rest of the module.
type EventLoop interface {
	// Attach registers a net.Conn and its handler with the loop. The loop
	// takes ownership of reading from conn and delivering bytes to handler
	// until the connection errors or is closed (by either side or by Stop).
	Attach(conn net.Conn, handler connHandler) *LoopConn

	// RunLocal blocks the calling goroutine, processing events until Stop
	// is called. LocalEventLoop's RunLocal is optional: callbacks are
	// already dispatched from each connection's reader goroutine, so
	// RunLocal here just blocks until Stop for callers that want a
	// traditional "run the loop" entry point (spec section 6's RunLocal).
	RunLocal()

	// Stop unblocks any goroutine inside RunLocal and detaches all
	// connections.
	Stop()
}

// LoopConn is the handle returned by Attach, used to write and close.
type LoopConn struct {
	id     int64
	conn   net.Conn
	buf    *AsyncBuffers
	loop   *LocalEventLoop
	mu     sync.Mutex // serializes writes from multiple goroutines onto conn
	closed atomic.Bool
}

// ID returns the process-wide monotonic connection id, observability-only
// (spec section 9).
func (c *LoopConn) ID() int64 { return c.id }

// Buffers returns the connection's AsyncBuffers.
func (c *LoopConn) Buffers() *AsyncBuffers { return c.buf }

// Flush writes any bytes queued in the write buffer to the socket.
func (c *LoopConn) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data := c.buf.drainWrite()
	if len(data) == 0 {
		return nil
	}
	n, err := c.conn.Write(data)
	c.buf.compactWrite(n)
	return err
}

// Close tears down the connection. Safe to call multiple times.
func (c *LoopConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

func (c *LoopConn) Closed() bool { return c.closed.Load() }

var connIDSeq int64

func nextConnID() int64 {
	return atomic.AddInt64(&connIDSeq, 1)
}

// LocalEventLoop is a goroutine-per-connection EventLoop: each attached
// connection gets a dedicated goroutine blocked in Read, with a shared mutex
// serializing all handler callback dispatch so user code sees the same
// run-to-completion, never-reentrant model the single-threaded original
// provides, regardless of how many connections are attached.
type LocalEventLoop struct {
	log *slog.Logger

	mu       sync.Mutex // serializes all onReadable/onError dispatch
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	conns   map[int64]*LoopConn
	connsMu sync.Mutex
}

// NewLocalEventLoop constructs a LocalEventLoop. A nil logger defaults to
// slog.Default().
func NewLocalEventLoop(log *slog.Logger) *LocalEventLoop {
	if log == nil {
		log = slog.Default()
	}
	return &LocalEventLoop{
		log:    log,
		stopCh: make(chan struct{}),
		conns:  make(map[int64]*LoopConn),
	}
}

func (l *LocalEventLoop) Attach(conn net.Conn, handler connHandler) *LoopConn {
	lc := &LoopConn{
		id:   nextConnID(),
		conn: conn,
		buf:  NewAsyncBuffers(handler.minInitialRead(), 0),
		loop: l,
	}
	l.connsMu.Lock()
	l.conns[lc.id] = lc
	l.connsMu.Unlock()

	l.wg.Add(1)
	go l.readLoop(lc, handler)
	return lc
}

func (l *LocalEventLoop) readLoop(lc *LoopConn, handler connHandler) {
	defer l.wg.Done()
	defer func() {
		l.connsMu.Lock()
		delete(l.conns, lc.id)
		l.connsMu.Unlock()
	}()

	chunk := make([]byte, 64*1024)
	for {
		n, err := lc.conn.Read(chunk)
		if n > 0 {
			l.mu.Lock()
			lc.buf.Append(chunk[:n])
			ok, hErr := true, error(nil)
			if minRead, _ := lc.buf.Watermarks(); lc.buf.ReadSize() >= minRead {
				ok, hErr = handler.onReadable(lc.buf)
			}
			l.mu.Unlock()
			if !ok {
				l.closeWithError(lc, handler, hErr)
				return
			}
		}
		if err != nil {
			l.mu.Lock()
			kind := classifyReadErr(err)
			l.mu.Unlock()
			l.closeWithError(lc, handler, err)
			_ = kind
			return
		}
	}
}

func (l *LocalEventLoop) closeWithError(lc *LoopConn, handler connHandler, err error) {
	_ = lc.Close()
	kind := classifyReadErr(err)
	switch {
	case kind == ErrIOClosed && err != nil:
		err = fmt.Errorf("%w: %w", ErrClosed, err)
	case kind == ErrIOTimeout:
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	handler.onError(kind, err)
}

func classifyReadErr(err error) AsyncError {
	if err == nil {
		return ErrIOClosed
	}
	if errors.Is(err, ErrProtocol) {
		return ErrIOProtocol
	}
	if err == io.EOF {
		return ErrIOClosed
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return ErrIOTimeout
	}
	return ErrIORead
}

func (l *LocalEventLoop) RunLocal() {
	<-l.stopCh
}

func (l *LocalEventLoop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.connsMu.Lock()
		conns := make([]*LoopConn, 0, len(l.conns))
		for _, c := range l.conns {
			conns = append(conns, c)
		}
		l.connsMu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
		l.wg.Wait()
	})
}
