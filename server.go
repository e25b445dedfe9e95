package evoasync

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pior/evoasync/protocol"
)

// ErrServerClosed is returned by Serve/ListenAndServe once Close has been
// called.
var ErrServerClosed = errors.New("evoasync: server closed")

// ServerConfig configures a MemcachedServer, following the teacher's
// Config-struct idiom (client.go Config) extended with the watermarks and
// protocol-gating flags spec sections 4.3/6 and the supplemented read-
// watermark feature describe.
type ServerConfig struct {
	// Handler receives dispatched commands. A nil Handler defaults to
	// NopHandler{}.
	Handler Handler

	// ReadTimeout / WriteTimeout bound each accepted connection's socket
	// deadline. Zero disables the corresponding deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxInitialRead bounds the declared byte count a storage command may
	// carry, and is used as the peer-facing "object too large for cache"
	// limit; <= 0 defaults to 512 KiB (spec section 6, supplemented
	// feature 3).
	MaxInitialRead int

	// MinInitialRead is the minimum buffered bytes required before the
	// first onReadable dispatch of a fresh request cycle; 0 dispatches on
	// any data, matching the original's default handler (supplemented
	// feature 3).
	MinInitialRead int

	// EnableCAS gates cas/gets/gats (spec section 4.3).
	EnableCAS bool

	// EnableGAT gates gat/gats (spec section 4.3).
	EnableGAT bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// EventLoop lets the server share a loop with another async object,
	// e.g. a BackendPool's own backend connections for a single-process
	// proxy (spec section 1). Nil means the server creates and owns a
	// private *LocalEventLoop.
	EventLoop EventLoop
}

func (cfg ServerConfig) maxValueSize() int {
	if cfg.MaxInitialRead <= 0 {
		return protocol.DefaultMaxInitialRead
	}
	return cfg.MaxInitialRead
}

// MemcachedServer accepts TCP connections and dispatches parsed classic
// text-protocol commands to a Handler (spec section 4.3).
type MemcachedServer struct {
	cfg     ServerConfig
	handler Handler
	log     *slog.Logger

	loop     EventLoop
	ownsLoop bool

	stats serverStatsCollector

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewMemcachedServer creates a server ready to Serve.
func NewMemcachedServer(cfg ServerConfig) *MemcachedServer {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	handler := cfg.Handler
	if handler == nil {
		handler = NopHandler{}
	}
	s := &MemcachedServer{cfg: cfg, handler: handler, log: log}
	if cfg.EventLoop != nil {
		s.loop = cfg.EventLoop
	} else {
		s.loop = NewLocalEventLoop(log)
		s.ownsLoop = true
	}
	return s
}

// ListenAndServe listens on addr and serves until Close, returning
// ErrServerClosed in that case.
func (s *MemcachedServer) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("evoasync: listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln, attaching each to the server's
// EventLoop, until Close is called.
func (s *MemcachedServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	for {
		nc, err := ln.Accept()
		if err != nil {
			s.stats.recordAccept(err)
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return ErrServerClosed
			}
			return fmt.Errorf("evoasync: accept: %w", err)
		}
		s.stats.recordAccept(nil)
		s.attach(nc)
	}
}

func (s *MemcachedServer) attach(nc net.Conn) {
	if s.cfg.ReadTimeout > 0 || s.cfg.WriteTimeout > 0 {
		_ = nc.SetDeadline(time.Now().Add(maxDuration(s.cfg.ReadTimeout, s.cfg.WriteTimeout)))
	}
	sc := newServerConn(s)
	sc.lc = s.loop.Attach(nc, sc)
}

// Stats returns a snapshot of the server's connection/accept/read counters
// (spec's supplemented feature 2).
func (s *MemcachedServer) Stats() ServerStats {
	return s.stats.snapshot()
}

// Close stops accepting new connections and, if the server owns its loop,
// tears down every attached connection. Safe to call multiple times.
func (s *MemcachedServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	if s.ownsLoop {
		s.loop.Stop()
	}
	return err
}
