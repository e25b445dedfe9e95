package evoasync

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

// clientState is the connection lifecycle described in spec section 4.2:
// NONE -> CONNECTING -> CONNECTED.
type clientState int

const (
	stateNone clientState = iota
	stateConnecting
	stateConnected
)

// ClientConfig configures a MemcachedClient, following the teacher's
// Config-struct idiom (client.go Config) extended with the async client's
// timeouts and response-queue sizing (spec section 6).
type ClientConfig struct {
	// DialTimeout is not applied: ConnectIP dials with a zero-value
	// net.Dialer, so the TCP handshake has no explicit timeout.
	DialTimeout time.Duration

	// ReadTimeout / WriteTimeout bound per-operation socket deadlines. Zero
	// disables the corresponding deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// QueueCapacity bounds the ResponseQueue; <= 0 defaults to 256.
	QueueCapacity int

	// Logger defaults to slog.Default() (spec section 6, set_logger).
	Logger *slog.Logger

	// EventLoop lets a client be attached to a shared loop (e.g. a
	// server's, for back-end/proxy use per spec section 1). Nil means the
	// client creates and owns a private *LocalEventLoop.
	EventLoop EventLoop
}

// MemcachedClient is the async, pipelining Memcached text-protocol client
// (spec section 4.2). Each request method writes its command to the
// connection's write buffer and, unless the caller omitted a reply
// handler, enqueues a responseDescriptor; ResponseQueue.Pop matches
// incoming reply lines back to descriptors in strict wire order.
type MemcachedClient struct {
	id int64

	mu    sync.Mutex
	state clientState

	loop     EventLoop
	ownsLoop bool
	conn     *LoopConn

	queue *ResponseQueue

	log *slog.Logger

	onConnect  func()
	onErrorFn  func(AsyncError, error)

	readTimeout  time.Duration
	writeTimeout time.Duration

	// pendingWrites holds commands issued while still CONNECTING (spec
	// section 4.2: "Requests may be issued while CONNECTING; they are
	// queued in the outbound write buffer and sent once writable").
	pendingWrites [][]byte

	// parser state, see client_parser.go
	parserState   clientParserState
	pendingValue  pendingValueRead
	notFoundState *notFoundTracker
}

type clientParserState int

const (
	parserExpectingReply clientParserState = iota
	parserReadingValueBody
)

// NewMemcachedClient creates a client in state NONE. Call AttachTo (if
// sharing another async object's loop) before the first ConnectIP.
func NewMemcachedClient(cfg ClientConfig) *MemcachedClient {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &MemcachedClient{
		id:           nextConnID(),
		log:          log,
		queue:        NewResponseQueue(cfg.QueueCapacity),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
	if cfg.EventLoop != nil {
		c.loop = cfg.EventLoop
	}
	return c
}

// ID returns the process-wide monotonic client id (observability-only,
// spec section 9).
func (c *MemcachedClient) ID() int64 { return c.id }

// SetOnConnect registers the callback fired once the TCP handshake
// completes.
func (c *MemcachedClient) SetOnConnect(fn func()) { c.onConnect = fn }

// SetOnError registers the global error callback, fired after any
// in-flight descriptor's own error callback (spec section 7).
func (c *MemcachedClient) SetOnError(fn func(AsyncError, error)) { c.onErrorFn = fn }

// SetTimeout sets the read/write socket deadlines applied to the
// connection once established.
func (c *MemcachedClient) SetTimeout(read, write time.Duration) {
	c.readTimeout = read
	c.writeTimeout = write
}

// SetLogger overrides the client's logger.
func (c *MemcachedClient) SetLogger(log *slog.Logger) {
	if log != nil {
		c.log = log
	}
}

// AttachTo binds the client to another async object's EventLoop. Must be
// called before the first ConnectIP; afterwards it is silently ignored
// (spec section 3, ClientAttachment; section 5, Attachment rule).
func (c *MemcachedClient) AttachTo(loop EventLoop) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateNone {
		return
	}
	c.loop = loop
}

// ConnectIP dials host:port asynchronously. It returns false only if the
// client is not in state NONE (spec section 6: connect_ip contract).
func (c *MemcachedClient) ConnectIP(host string, port int) bool {
	c.mu.Lock()
	if c.state != stateNone {
		c.mu.Unlock()
		return false
	}
	c.state = stateConnecting
	loop := c.loop
	if loop == nil {
		local := NewLocalEventLoop(c.log)
		loop = local
		c.loop = local
		c.ownsLoop = true
	}
	c.mu.Unlock()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	go c.dialAndAttach(loop, addr)
	return true
}

func (c *MemcachedClient) dialAndAttach(loop EventLoop, addr string) {
	d := net.Dialer{}
	ctx := context.Background()
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.mu.Lock()
		c.state = stateNone
		onErr := c.onErrorFn
		c.mu.Unlock()
		if onErr != nil {
			onErr(ErrConnect, err)
		}
		return
	}
	if c.readTimeout > 0 || c.writeTimeout > 0 {
		_ = nc.SetDeadline(time.Now().Add(maxDuration(c.readTimeout, c.writeTimeout)))
	}

	c.mu.Lock()
	c.state = stateConnected
	lc := loop.Attach(nc, c)
	c.conn = lc
	for _, cmd := range c.pendingWrites {
		lc.Buffers().WriteBytes(cmd)
	}
	c.pendingWrites = nil
	onConnect := c.onConnect
	c.mu.Unlock()
	_ = lc.Flush()

	if onConnect != nil {
		onConnect()
	}
}

// RunLocal blocks until the client's own loop stops (only meaningful when
// the client owns its loop, i.e. it was never attached to another async
// object's loop). Per spec section 5, only the loop-owning entity may
// drive a local run.
func (c *MemcachedClient) RunLocal() {
	c.mu.Lock()
	loop, owns := c.loop, c.ownsLoop
	c.mu.Unlock()
	if loop != nil && owns {
		loop.RunLocal()
	}
}

// Close tears down the connection. Safe to call multiple times.
func (c *MemcachedClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	owns := c.ownsLoop
	loop := c.loop
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if owns && loop != nil {
		loop.Stop()
	}
	return nil
}

// connected reports whether the client may currently accept request
// methods (spec section 6: "false only if the client is in NONE").
func (c *MemcachedClient) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != stateNone
}

// writeCommand flushes cmd to the wire and, if expectReply, enqueues d.
// Returns ErrNotConnected / ErrBackpressure per spec section 7. While still
// CONNECTING, cmd is buffered in pendingWrites and sent once the connection
// attaches (spec section 4.2).
func (c *MemcachedClient) writeCommand(cmd []byte, expectReply bool, d responseDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateNone {
		return ErrNotConnected
	}
	if expectReply && c.queue.Full() {
		return ErrBackpressure
	}
	if expectReply {
		_ = c.queue.Push(d)
	}

	if c.conn == nil {
		c.pendingWrites = append(c.pendingWrites, cmd)
		return nil
	}
	c.conn.Buffers().WriteBytes(cmd)
	return c.conn.Flush()
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
